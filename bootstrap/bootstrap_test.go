package bootstrap_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/finance-ledger/bootstrap"
	"github.com/warp/finance-ledger/config"
	"github.com/warp/finance-ledger/ledger"
	"github.com/warp/finance-ledger/lock"
	"github.com/warp/finance-ledger/notify"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Database.Path = ":memory:"
	cfg.Database.ConnectTimeout = time.Second
	return cfg
}

func TestNew_SQLiteDefaults(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.RecalcMode = "replay"

	app, err := bootstrap.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.Store.Ping(context.Background()))
	assert.IsType(t, &lock.Local{}, app.Engine.Locker)
	assert.IsType(t, notify.LogPublisher{}, app.Engine.Publisher)
	assert.Equal(t, ledger.RecalcReplay, app.Engine.Config.RecalcMode)
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = mr.Addr()

	app, err := bootstrap.New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer app.Close()

	require.IsType(t, &lock.RedisLocker{}, app.Engine.Locker)
	release, err := app.Engine.Locker.Acquire(context.Background(), "series-1")
	require.NoError(t, err)
	assert.True(t, mr.Exists("finance-ledger:series-1"))
	release()
}

func TestNew_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig(t)
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = addr
	cfg.Database.ConnectTimeout = 300 * time.Millisecond

	_, err := bootstrap.New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect redis")
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "postgres"

	_, err := bootstrap.New(context.Background(), cfg, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown database driver")
}
