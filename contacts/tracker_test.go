package contacts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/keyshare-backup/database"
	"github.com/ruteri/keyshare-backup/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var allStatuses = []interfaces.SendStatus{
	interfaces.StatusNone,
	interfaces.StatusSelected,
	interfaces.StatusSent,
	interfaces.StatusConfirmed,
	interfaces.StatusReceived,
}

func TestCanTransition(t *testing.T) {
	for _, from := range allStatuses {
		for _, to := range allStatuses {
			expected := to == interfaces.StatusNone || to == from+1
			assert.Equal(t, expected, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestNext(t *testing.T) {
	next, ok := Next(interfaces.StatusNone)
	assert.True(t, ok)
	assert.Equal(t, interfaces.StatusSelected, next)

	next, ok = Next(interfaces.StatusConfirmed)
	assert.True(t, ok)
	assert.Equal(t, interfaces.StatusReceived, next)

	_, ok = Next(interfaces.StatusReceived)
	assert.False(t, ok)
}

type fixture struct {
	ctx      context.Context
	store    *database.FaultyStore
	inner    *database.MemoryStore
	tracker  *Tracker
	keyParts []*interfaces.KeyPart
}

func newFixture(t *testing.T) *fixture {
	ctx := context.Background()
	inner := database.NewMemoryStore()
	store := database.NewFaultyStore(inner)

	require.NoError(t, inner.UpsertContainer(ctx, &interfaces.Container{
		ID: interfaces.ActiveContainerID, Name: "primary", Threshold: 2, Total: 3, Timestamp: 1700000000000,
	}))
	keyParts := []*interfaces.KeyPart{
		{ContainerID: 1, Key: []byte{0x01, 0x01}, Owner: "Alice", Timestamp: 1700000000000, Threshold: 2},
		{ContainerID: 1, Key: []byte{0x02, 0x02}, Owner: "Alice", Timestamp: 1700000000000, Threshold: 2},
		{ContainerID: 1, Key: []byte{0x03, 0x03}, Owner: "Alice", Timestamp: 1700000000000, Threshold: 2},
	}
	require.NoError(t, inner.InsertKeyParts(ctx, keyParts))

	return &fixture{
		ctx:      ctx,
		store:    store,
		inner:    inner,
		tracker:  NewTracker(store, slog.New(slog.NewTextHandler(io.Discard, nil))),
		keyParts: keyParts,
	}
}

func (f *fixture) addContact(t *testing.T, name, email string) *interfaces.Contact {
	c := &interfaces.Contact{Name: name, Email: email}
	require.NoError(t, f.tracker.Add(f.ctx, c))
	require.NotZero(t, c.ID)
	return c
}

// advanceTo drives the contact through the lifecycle up to status.
func (f *fixture) advanceTo(t *testing.T, c *interfaces.Contact, kp *interfaces.KeyPart, status interfaces.SendStatus) {
	steps := []func() error{
		func() error { return f.tracker.Select(f.ctx, c, kp, interfaces.MethodQR) },
		func() error { return f.tracker.MarkSent(f.ctx, c) },
		func() error { return f.tracker.Confirm(f.ctx, c) },
		func() error { return f.tracker.MarkReceived(f.ctx, c) },
	}
	for i := 0; i < int(status); i++ {
		require.NoError(t, steps[i]())
	}
	require.Equal(t, status, c.SendStatus)
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	c := f.addContact(t, "Bob", "bob@example.com")
	kp := f.keyParts[0]

	require.NoError(t, f.tracker.Select(f.ctx, c, kp, interfaces.MethodEmail))
	assert.Equal(t, interfaces.StatusSelected, c.SendStatus)
	assert.Equal(t, interfaces.MethodEmail, c.SendMethod)
	assert.Equal(t, kp.ID, c.KeyPartID)

	pending, err := f.tracker.Pending(f.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, c.ID, pending[0].ID)

	prefs, err := f.inner.Preferences(f.ctx)
	require.NoError(t, err)
	assert.False(t, prefs.KeyShared)

	require.NoError(t, f.tracker.MarkSent(f.ctx, c))
	assert.Equal(t, interfaces.StatusSent, c.SendStatus)

	prefs, err = f.inner.Preferences(f.ctx)
	require.NoError(t, err)
	assert.True(t, prefs.KeyShared)

	require.NoError(t, f.tracker.Confirm(f.ctx, c))
	require.NoError(t, f.tracker.MarkReceived(f.ctx, c))

	stored, err := f.inner.FindContact(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, stored)

	pending, err = f.tracker.Pending(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSkippingStatesIsRejected(t *testing.T) {
	f := newFixture(t)
	c := f.addContact(t, "Bob", "")

	assert.ErrorIs(t, f.tracker.MarkSent(f.ctx, c), interfaces.ErrInvalidTransition)
	assert.ErrorIs(t, f.tracker.Confirm(f.ctx, c), interfaces.ErrInvalidTransition)
	assert.ErrorIs(t, f.tracker.MarkReceived(f.ctx, c), interfaces.ErrInvalidTransition)

	require.NoError(t, f.tracker.Select(f.ctx, c, f.keyParts[0], interfaces.MethodPrint))
	assert.ErrorIs(t, f.tracker.Select(f.ctx, c, f.keyParts[1], interfaces.MethodPrint), interfaces.ErrInvalidTransition)
	assert.ErrorIs(t, f.tracker.Confirm(f.ctx, c), interfaces.ErrInvalidTransition)
	assert.Equal(t, interfaces.StatusSelected, c.SendStatus)
}

func TestClearFromEveryState(t *testing.T) {
	for _, status := range allStatuses {
		t.Run(status.String(), func(t *testing.T) {
			f := newFixture(t)
			c := f.addContact(t, "Bob", "")
			kp := f.keyParts[0]
			f.advanceTo(t, c, kp, status)

			require.NoError(t, f.tracker.Clear(f.ctx, c))
			assert.Equal(t, interfaces.StatusNone, c.SendStatus)
			assert.Equal(t, interfaces.MethodNone, c.SendMethod)
			assert.False(t, c.HasKeyPart())

			stored, err := f.inner.FindContact(f.ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, interfaces.StatusNone, stored.SendStatus)
			assert.Zero(t, stored.KeyPartID)

			_, err = f.inner.FindKeyPart(f.ctx, kp.ID)
			if status == interfaces.StatusConfirmed || status == interfaces.StatusReceived {
				assert.ErrorIs(t, err, interfaces.ErrNotFound, "confirmed share must be deleted")
			} else {
				assert.NoError(t, err, "unconfirmed share must be kept as a spare")
			}
		})
	}
}

func TestClearRollsBackOnPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	c := f.addContact(t, "Bob", "")
	kp := f.keyParts[0]
	f.advanceTo(t, c, kp, interfaces.StatusConfirmed)

	f.store.FailOn("DeleteKeyPart", errors.New("disk full"))
	err := f.tracker.Clear(f.ctx, c)
	require.Error(t, err)
	assert.ErrorIs(t, err, interfaces.ErrPersistence)

	assert.Equal(t, interfaces.StatusConfirmed, c.SendStatus)
	assert.Equal(t, kp.ID, c.KeyPartID)

	stored, err := f.inner.FindContact(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusConfirmed, stored.SendStatus)
	assert.Equal(t, kp.ID, stored.KeyPartID)

	_, err = f.inner.FindKeyPart(f.ctx, kp.ID)
	assert.NoError(t, err)
}

func TestTransitionPersistenceFailure(t *testing.T) {
	f := newFixture(t)
	c := f.addContact(t, "Bob", "")

	f.store.FailOn("UpsertContact", errors.New("disk full"))
	err := f.tracker.Select(f.ctx, c, f.keyParts[0], interfaces.MethodQR)
	require.Error(t, err)

	var persistErr *interfaces.PersistenceError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, "select", persistErr.Op)

	assert.Equal(t, interfaces.StatusNone, c.SendStatus)
	assert.False(t, c.HasKeyPart())
}

func TestMarkSentRollsBackPreference(t *testing.T) {
	f := newFixture(t)
	c := f.addContact(t, "Bob", "")
	f.advanceTo(t, c, f.keyParts[0], interfaces.StatusSelected)

	f.store.FailOn("UpsertContact", errors.New("disk full"))
	require.Error(t, f.tracker.MarkSent(f.ctx, c))

	prefs, err := f.inner.Preferences(f.ctx)
	require.NoError(t, err)
	assert.False(t, prefs.KeyShared)
	assert.Equal(t, interfaces.StatusSelected, c.SendStatus)
}

func TestSelectValidation(t *testing.T) {
	f := newFixture(t)
	bob := f.addContact(t, "Bob", "")
	carol := f.addContact(t, "Carol", "carol@example.com")

	assert.ErrorIs(t, f.tracker.Select(f.ctx, bob, f.keyParts[0], interfaces.MethodEmail), ErrNoEmail)
	assert.ErrorIs(t, f.tracker.Select(f.ctx, bob, f.keyParts[0], interfaces.MethodNone), ErrNoMethod)
	assert.ErrorIs(t, f.tracker.Select(f.ctx, bob, &interfaces.KeyPart{ID: 99, Foreign: true}, interfaces.MethodQR), ErrForeignKeyPart)

	require.NoError(t, f.tracker.Select(f.ctx, bob, f.keyParts[0], interfaces.MethodQR))
	assert.ErrorIs(t, f.tracker.Select(f.ctx, carol, f.keyParts[0], interfaces.MethodEmail), ErrKeyPartInUse)
	assert.Equal(t, interfaces.StatusNone, carol.SendStatus)

	require.NoError(t, f.tracker.Select(f.ctx, carol, f.keyParts[1], interfaces.MethodEmail))
}

func TestSelectRequiresStoredActiveKeyPart(t *testing.T) {
	f := newFixture(t)
	bob := f.addContact(t, "Bob", "")

	unsaved := &interfaces.KeyPart{ContainerID: 1, Key: []byte{0x09}, Owner: "Alice", Timestamp: 1700000000000}
	assert.ErrorIs(t, f.tracker.Select(f.ctx, bob, unsaved, interfaces.MethodQR), interfaces.ErrNotFound)
	made := &interfaces.KeyPart{ID: 4242, ContainerID: 1, Key: []byte{0x09}}
	assert.ErrorIs(t, f.tracker.Select(f.ctx, bob, made, interfaces.MethodQR), interfaces.ErrNotFound)

	stored, err := f.inner.FindContact(f.ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.StatusNone, stored.SendStatus)
	assert.Zero(t, stored.KeyPartID)
	assert.Equal(t, interfaces.StatusNone, bob.SendStatus)
	assert.False(t, bob.HasKeyPart())

	old := &interfaces.KeyPart{ContainerID: 2, Key: []byte{0x0a}, Owner: "Alice", Timestamp: 1600000000000}
	require.NoError(t, f.inner.InsertKeyParts(f.ctx, []*interfaces.KeyPart{old}))
	assert.ErrorIs(t, f.tracker.Select(f.ctx, bob, old, interfaces.MethodQR), ErrInactiveKeyPart)

	// The stored row decides, not the caller's copy.
	disguised := *old
	disguised.ContainerID = 1
	assert.ErrorIs(t, f.tracker.Select(f.ctx, bob, &disguised, interfaces.MethodQR), ErrInactiveKeyPart)
	assert.Equal(t, interfaces.StatusNone, bob.SendStatus)

	require.NoError(t, f.tracker.Select(f.ctx, bob, f.keyParts[2], interfaces.MethodQR))
	assert.Equal(t, f.keyParts[2].ID, bob.KeyPartID)
	assert.Equal(t, interfaces.ActiveContainerID, bob.ContainerID)
}

func TestReceivedBack(t *testing.T) {
	f := newFixture(t)
	bob := f.addContact(t, "Bob", "")
	carol := f.addContact(t, "Carol", "")
	f.advanceTo(t, bob, f.keyParts[0], interfaces.StatusConfirmed)
	f.advanceTo(t, carol, f.keyParts[1], interfaces.StatusSent)

	holder, err := f.tracker.ReceivedBack(f.ctx, f.keyParts[0])
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, bob.ID, holder.ID)
	assert.Equal(t, interfaces.StatusReceived, holder.SendStatus)

	holder, err = f.tracker.ReceivedBack(f.ctx, f.keyParts[1])
	require.NoError(t, err)
	require.NotNil(t, holder)
	assert.Equal(t, interfaces.StatusSent, holder.SendStatus)

	holder, err = f.tracker.ReceivedBack(f.ctx, f.keyParts[2])
	require.NoError(t, err)
	assert.Nil(t, holder)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	c := f.addContact(t, "Bob", "")
	f.advanceTo(t, c, f.keyParts[0], interfaces.StatusSent)

	require.NoError(t, f.tracker.Remove(f.ctx, c))

	_, err := f.inner.FindContact(f.ctx, c.ID)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	list, err := f.tracker.List(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// MockContactBook implements interfaces.ContactBook for testing
type MockContactBook struct {
	mock.Mock
}

func (m *MockContactBook) Refresh(ctx context.Context, c *interfaces.Contact) (bool, error) {
	args := m.Called(ctx, c)
	return args.Bool(0), args.Error(1)
}

func TestRefresh(t *testing.T) {
	f := newFixture(t)
	c := f.addContact(t, "Bob", "")
	f.advanceTo(t, c, f.keyParts[0], interfaces.StatusSent)

	book := &MockContactBook{}
	book.On("Refresh", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*interfaces.Contact).Name = "Bob Smith"
	}).Return(true, nil).Once()

	changed, err := f.tracker.Refresh(f.ctx, book, c)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "Bob Smith", c.Name)
	assert.Equal(t, interfaces.StatusSent, c.SendStatus)

	stored, err := f.inner.FindContact(f.ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bob Smith", stored.Name)

	book.On("Refresh", mock.Anything, mock.Anything).Return(false, errors.New("address book unavailable")).Once()
	_, err = f.tracker.Refresh(f.ctx, book, c)
	assert.Error(t, err)
	assert.Equal(t, "Bob Smith", c.Name)

	f.store.FailOn("UpsertContact", errors.New("disk full"))
	book.On("Refresh", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*interfaces.Contact).Name = "Robert"
	}).Return(true, nil).Once()
	_, err = f.tracker.Refresh(f.ctx, book, c)
	assert.ErrorIs(t, err, interfaces.ErrPersistence)
	assert.Equal(t, "Bob Smith", c.Name, "contact unchanged when the write fails")

	book.AssertExpectations(t)
}
