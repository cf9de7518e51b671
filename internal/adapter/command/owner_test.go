package command

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lotus-md/internal/domain"
	"lotus-md/internal/usecase/supervisor"
)

func TestOwnerContactIsPublic(t *testing.T) {
	d := testDeps()
	c := &fakeClient{}

	require.NoError(t, invoke(t, d.owner, c, testMsg(".owner"), false))

	out := c.last(t)
	assert.Contains(t, out.Text, "👤 *Lotus MD Owner*")
	assert.Contains(t, out.Text, "▢ @6289999999999")
	assert.Equal(t, []string{testOwner}, out.Mentions)
}

func TestOwnerCommandsRequireOwner(t *testing.T) {
	for _, body := range []string{".restart", ".shutdown", ".reload ping", ".block 628123456"} {
		t.Run(body, func(t *testing.T) {
			d := testDeps()
			exited := false
			d.Exit = func(int) { exited = true }
			c := &adminClient{}

			require.NoError(t, invoke(t, d.owner, c, testMsg(body), false))
			assert.Equal(t, ownerOnlyText, c.last(t).Text)
			assert.False(t, exited)
			assert.Empty(t, c.blocked)
		})
	}
}

func TestRestartAndShutdownExit(t *testing.T) {
	tests := []struct {
		body string
		code int
		text string
	}{
		{".restart", supervisor.ExitRestart, "🔄 Restarting bot..."},
		{".shutdown", supervisor.ExitOK, "👋 Shutting down..."},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			d := testDeps()
			codes := make(chan int, 1)
			d.Exit = func(code int) { codes <- code }
			c := &fakeClient{}

			require.NoError(t, invoke(t, d.owner, c, testMsg(tt.body), true))
			assert.Equal(t, tt.text, c.last(t).Text)

			select {
			case code := <-codes:
				assert.Equal(t, tt.code, code)
			case <-time.After(2 * time.Second):
				t.Fatal("exit was not requested")
			}
		})
	}
}

func TestRestartWithoutExitHook(t *testing.T) {
	d := testDeps()
	err := invoke(t, d.owner, &fakeClient{}, testMsg(".restart"), true)
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}

func TestReload(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		d := testDeps()
		r := &fakeReloader{desc: &domain.PluginDescriptor{Manifest: domain.PluginManifest{Name: "ping", Commands: []string{"ping", "speed"}}}}
		d.Reloader = r
		c := &fakeClient{}

		require.NoError(t, invoke(t, d.owner, c, testMsg(".reload ping"), true))
		assert.Equal(t, "ping", r.name)
		assert.Equal(t, "✅ Reloaded *ping* (ping, speed)", c.last(t).Text)
	})

	t.Run("not found", func(t *testing.T) {
		d := testDeps()
		d.Reloader = &fakeReloader{err: domain.NewSubSystemError("plugin", "Manager.Reload", domain.ErrNotFound, "ghost")}
		c := &fakeClient{}

		require.NoError(t, invoke(t, d.owner, c, testMsg(".reload ghost"), true))
		assert.Equal(t, "❌ Plugin *ghost* not found.", c.last(t).Text)
	})

	t.Run("broken manifest", func(t *testing.T) {
		d := testDeps()
		d.Reloader = &fakeReloader{err: errors.New("manifest has no commands")}
		c := &fakeClient{}

		require.NoError(t, invoke(t, d.owner, c, testMsg(".reload ping"), true))
		assert.Contains(t, c.last(t).Text, "❌ Failed to reload *ping*: manifest has no commands")
	})

	t.Run("usage", func(t *testing.T) {
		d := testDeps()
		d.Reloader = &fakeReloader{}
		c := &fakeClient{}

		require.NoError(t, invoke(t, d.owner, c, testMsg(".reload"), true))
		assert.Contains(t, c.last(t).Text, "Please specify a plugin name")
	})
}

func TestBlockAndUnblock(t *testing.T) {
	d := testDeps()
	c := &adminClient{}

	msg := testMsg(".block")
	msg.Mentions = []string{"628111@s.whatsapp.net"}
	require.NoError(t, invoke(t, d.owner, c, msg, true))
	assert.True(t, c.blocked["628111@s.whatsapp.net"])
	assert.Equal(t, "✅ Blocked @628111", c.last(t).Text)

	require.NoError(t, invoke(t, d.owner, c, testMsg(".unblock 628111"), true))
	assert.False(t, c.blocked["628111@s.whatsapp.net"])
	assert.Equal(t, "✅ Unblocked @628111", c.last(t).Text)
}

func TestBlockNeedsTarget(t *testing.T) {
	d := testDeps()
	c := &adminClient{}

	msg := testMsg(".block")
	msg.IsGroup = false
	msg.ChatID = testOwner
	require.NoError(t, invoke(t, d.owner, c, msg, true))
	assert.Contains(t, c.last(t).Text, "Please mention, quote or give the number")
	assert.Empty(t, c.blocked)
}

func TestBlockFailureIsReturned(t *testing.T) {
	d := testDeps()
	c := &adminClient{failErr: errors.New("server said no")}

	err := invoke(t, d.owner, c, testMsg(".block 628111"), true)
	assert.ErrorContains(t, err, "server said no")
	assert.Empty(t, c.messages())
}

func TestBlockUnsupportedClient(t *testing.T) {
	d := testDeps()
	err := invoke(t, d.owner, &fakeClient{}, testMsg(".block 628111"), true)
	assert.ErrorIs(t, err, domain.ErrUnsupported)
}
