package registry

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"power-backend/internal/clock"
	apperrors "power-backend/internal/errors"
	"power-backend/internal/models"
)

var testStart = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *clock.FakeClock) {
	t.Helper()
	c := clock.Fake(testStart)
	opts = append([]Option{WithClock(c), WithHeartbeatTimeout(time.Minute)}, opts...)
	return New(opts...), c
}

func TestRegister_CreatesDeviceWithToken(t *testing.T) {
	r, _ := newTestRegistry(t)

	dev, err := r.Register("esp-1", "", "")
	require.NoError(t, err)

	assert.Equal(t, "esp-1", dev.ID)
	assert.Equal(t, "esp-1", dev.Name, "name defaults to id")
	assert.Equal(t, models.DeviceTypeDesktop, dev.Type)
	assert.Equal(t, models.PowerStateUnknown, dev.PowerState)
	assert.Len(t, dev.Token, 2*tokenBytes)
	assert.False(t, dev.Online)
	assert.Nil(t, dev.LastSeenTs)
	assert.NotNil(t, dev.ShutdownTasks)
	assert.NotNil(t, dev.WakeupTasks)

	other, err := r.Register("esp-2", "Office", "server")
	require.NoError(t, err)
	assert.NotEqual(t, dev.Token, other.Token)
	assert.Equal(t, models.DeviceType("server"), other.Type)
}

func TestRegister_Rejections(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Register("esp-1", "a", "desktop")
	require.NoError(t, err)

	_, err = r.Register("esp-1", "b", "desktop")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConflict))

	_, err = r.Register("   ", "b", "desktop")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))

	_, err = r.Register("bad id/with slash", "b", "desktop")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidInput))
}

func TestRegister_NotifiesHooks(t *testing.T) {
	changes := 0
	var events []models.DeviceEvent
	r, _ := newTestRegistry(t,
		WithChangeHook(func() { changes++ }),
		WithEventHook(func(ev models.DeviceEvent) { events = append(events, ev) }),
	)

	_, err := r.Register("esp-1", "", "")
	require.NoError(t, err)

	assert.Equal(t, 1, changes)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventDeviceRegistered, events[0].Type)

	_, err = r.Register("esp-1", "", "")
	require.Error(t, err)
	assert.Equal(t, 1, changes, "failed registration must not flush")
}

func TestGet_NotFound(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Get("missing")
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestGet_ReturnsCopy(t *testing.T) {
	r, _ := newTestRegistry(t)
	_, err := r.Register("esp-1", "", "")
	require.NoError(t, err)

	dev, err := r.Get("esp-1")
	require.NoError(t, err)
	dev.Name = "mutated"
	dev.ShutdownTasks = append(dev.ShutdownTasks, models.Task{ID: "x"})

	again, err := r.Get("esp-1")
	require.NoError(t, err)
	assert.Equal(t, "esp-1", again.Name)
	assert.Empty(t, again.ShutdownTasks)
}

func TestList_SortedById(t *testing.T) {
	r, _ := newTestRegistry(t)
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Register(id, "", "")
		require.NoError(t, err)
	}

	var ids []string
	for _, dev := range r.List() {
		ids = append(ids, dev.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
	assert.Equal(t, []string{"a", "b", "c"}, r.IDs())
}

func TestSnapshotRestore(t *testing.T) {
	r, c := newTestRegistry(t)
	dev, err := r.Register("esp-1", "Desk", "desktop")
	require.NoError(t, err)
	_, err = r.Heartbeat("esp-1", dev.Token, models.PowerStateOn)
	require.NoError(t, err)
	require.NoError(t, r.Update("esp-1", func(tx *Tx) error {
		tx.Device.ShutdownTasks = append(tx.Device.ShutdownTasks, models.Task{ID: "t1", Hour: 2, Minute: 30, Active: true, CreatedAt: c.Now()})
		return nil
	}))

	snap := r.Snapshot()
	require.Contains(t, snap, "esp-1")

	restored, _ := newTestRegistry(t)
	assert.Equal(t, 1, restored.Restore(snap))

	got, err := restored.Get("esp-1")
	require.NoError(t, err)
	assert.Equal(t, dev.Token, got.Token)
	assert.Equal(t, models.PowerStateOn, got.PowerState)
	require.Len(t, got.ShutdownTasks, 1)
	assert.Equal(t, "t1", got.ShutdownTasks[0].ID)
	assert.True(t, got.ShutdownTasks[0].Active)

	_, err = restored.Heartbeat("esp-1", dev.Token, "")
	assert.NoError(t, err, "restored token still authenticates")
}

func TestUpdate_ErrorSkipsHooks(t *testing.T) {
	changes := 0
	r, _ := newTestRegistry(t, WithChangeHook(func() { changes++ }))
	_, err := r.Register("esp-1", "", "")
	require.NoError(t, err)
	changes = 0

	err = r.Update("esp-1", func(tx *Tx) error {
		tx.Emit(models.EventTaskCreated, models.TaskKindShutdown, models.SourceAdmin, "")
		return apperrors.InvalidState("nope")
	})
	require.Error(t, err)
	assert.Equal(t, 0, changes)
}

func TestConcurrentDevicesDoNotInterfere(t *testing.T) {
	r, _ := newTestRegistry(t)
	tokens := map[string]string{}
	for _, id := range []string{"a", "b", "c", "d"} {
		dev, err := r.Register(id, "", "")
		require.NoError(t, err)
		tokens[id] = dev.Token
	}

	var wg sync.WaitGroup
	for id, token := range tokens {
		wg.Add(1)
		go func(id, token string) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				_, err := r.Heartbeat(id, token, models.PowerStateOn)
				assert.NoError(t, err)
				assert.NoError(t, r.Raise(id, models.TaskKindShutdown, models.SourceAdmin))
			}
		}(id, token)
	}
	wg.Wait()

	for id, token := range tokens {
		cmds, err := r.Heartbeat(id, token, "")
		require.NoError(t, err)
		assert.True(t, cmds.Shutdown, "last raise for %s must survive", id)
	}
}

func TestEvents_SequencedPerDevice(t *testing.T) {
	var mu sync.Mutex
	seqs := map[string][]uint64{}
	r, _ := newTestRegistry(t, WithEventHook(func(ev models.DeviceEvent) {
		mu.Lock()
		seqs[ev.DeviceID] = append(seqs[ev.DeviceID], ev.Seq)
		mu.Unlock()
	}))
	dev, err := r.Register("esp-1", "", "")
	require.NoError(t, err)
	_, err = r.Register("esp-2", "", "")
	require.NoError(t, err)

	const workers, rounds = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				assert.NoError(t, r.Raise("esp-1", models.TaskKindShutdown, models.SourceAdmin))
				_, err := r.Heartbeat("esp-1", dev.Token, "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1}, seqs["esp-2"], "devices count independently")

	got := append([]uint64(nil), seqs["esp-1"]...)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	for i, seq := range got {
		require.Equal(t, uint64(i+1), seq, "sequence has no gaps or duplicates")
	}
}
