package activations

import (
	"context"
	"sync"
	"testing"

	"github.com/glassapp/glass-server/pkg/config"
	"github.com/glassapp/glass-server/pkg/db"
	"github.com/glassapp/glass-server/pkg/db/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, name string) *db.Client {
	t.Helper()
	client, err := db.New(context.Background(), config.DBConfig{
		Driver: config.DriverSQLite,
		DSN:    "file:" + name + "?mode=memory&cache=shared",
		// A single connection serializes transactions the way the embedded
		// engine's single writer does in production.
		MaxOpenConns: 1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.DB().AutoMigrate(
		&models.LicenseKey{},
		&models.Activation{},
	))
	return client
}

func seedKey(t *testing.T, client *db.Client, maxActivations int) *models.LicenseKey {
	t.Helper()
	key := &models.LicenseKey{
		Code:           "TEST-" + uuid.NewString()[:8],
		Tier:           config.TierPro,
		MaxConcurrent:  5,
		MaxActivations: maxActivations,
	}
	require.NoError(t, client.DB().Create(key).Error)
	return key
}

func TestRecordAdmitsUpToCap(t *testing.T) {
	client := newTestClient(t, "ledger_cap")
	ledger := NewLedger(client)
	key := seedKey(t, client, 2)

	out, err := ledger.Record(context.Background(), key.ID, key.MaxActivations, "HW-A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	out, err = ledger.Record(context.Background(), key.ID, key.MaxActivations, "HW-B")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	out, err = ledger.Record(context.Background(), key.ID, key.MaxActivations, "HW-C")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLimitReached, out)

	count, err := ledger.CountForKey(context.Background(), key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestRecordReusesExistingSlot(t *testing.T) {
	client := newTestClient(t, "ledger_reuse")
	ledger := NewLedger(client)
	key := seedKey(t, client, 1)

	out, err := ledger.Record(context.Background(), key.ID, key.MaxActivations, "HW-A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, out)

	// Same device again: readmitted, no slot consumed.
	out, err = ledger.Record(context.Background(), key.ID, key.MaxActivations, "HW-A")
	require.NoError(t, err)
	assert.Equal(t, OutcomeReused, out)

	count, err := ledger.CountForKey(context.Background(), key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRecordConcurrentDevicesHoldCap(t *testing.T) {
	client := newTestClient(t, "ledger_race")
	ledger := NewLedger(client)

	const slots = 3
	const contenders = 8
	key := seedKey(t, client, slots)

	outcomes := make([]Outcome, contenders)
	errs := make([]error, contenders)

	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			hwid := "HW-" + string(rune('A'+i))
			outcomes[i], errs[i] = ledger.Record(context.Background(), key.ID, slots, hwid)
		}(i)
	}
	wg.Wait()

	var created, limited int
	for i := 0; i < contenders; i++ {
		require.NoError(t, errs[i])
		switch outcomes[i] {
		case OutcomeCreated:
			created++
		case OutcomeLimitReached:
			limited++
		default:
			t.Fatalf("unexpected outcome %q", outcomes[i])
		}
	}
	assert.Equal(t, slots, created, "exactly the cap may be admitted")
	assert.Equal(t, contenders-slots, limited)

	count, err := ledger.CountForKey(context.Background(), key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(slots), count)
}

func TestRecordConcurrentSameDeviceConsumesOneSlot(t *testing.T) {
	client := newTestClient(t, "ledger_same_device")
	ledger := NewLedger(client)
	key := seedKey(t, client, 5)

	const attempts = 6
	errs := make([]error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = ledger.Record(context.Background(), key.ID, key.MaxActivations, "HW-SAME")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	count, err := ledger.CountForKey(context.Background(), key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestListForKeyOrdersByActivation(t *testing.T) {
	client := newTestClient(t, "ledger_list")
	ledger := NewLedger(client)
	key := seedKey(t, client, 5)

	for _, hwid := range []string{"HW-1", "HW-2", "HW-3"} {
		_, err := ledger.Record(context.Background(), key.ID, key.MaxActivations, hwid)
		require.NoError(t, err)
	}

	rows, err := ledger.ListForKey(context.Background(), key.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	for _, row := range rows {
		assert.Equal(t, key.ID, row.KeyID)
	}
}
