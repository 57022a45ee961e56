//go:build !windows

package cli_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/dmora/agentpipe"
	"github.com/dmora/agentpipe/engine/cli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

func TestClient_StartShutdown(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newClient(t, &testBackend{script: echoAgent})
	assert.Equal(t, agentpipe.StateNotStarted, c.State())

	require.NoError(t, c.Start(testCtx(t), interactive()))
	assert.Equal(t, agentpipe.StateRunning, c.State())

	info, ok := c.Session()
	require.True(t, ok)
	assert.NotEmpty(t, info.ID)
	assert.True(t, filepath.IsAbs(info.WorkDir))

	require.NoError(t, c.Shutdown(testCtx(t)))
	assert.Equal(t, agentpipe.StateStopped, c.State())
}

func TestClient_StartWhileRunning(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	err := c.Start(testCtx(t), interactive())
	require.ErrorIs(t, err, agentpipe.ErrInvalidState)
	assert.Equal(t, agentpipe.StateRunning, c.State())
}

func TestClient_StartBinaryNotFound(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent}, cli.WithBinary("agentpipe-no-such-binary"))

	err := c.Start(testCtx(t), interactive())
	require.ErrorIs(t, err, agentpipe.ErrNotFound)
	assert.Equal(t, agentpipe.StateNotStarted, c.State())
}

func TestClient_StartInterpreterScript(t *testing.T) {
	script := filepath.Join(t.TempDir(), "agent.sh")
	require.NoError(t, os.WriteFile(script, []byte(echoAgent), 0o600))

	c := newClient(t, &testBackend{}, cli.WithInterpreter("bash", script))
	// The backend's own args follow the script.
	require.NoError(t, c.Start(testCtx(t), interactive()))

	out, err := c.Subscribe(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, c.Send(testCtx(t), agentpipe.TextMessage("hi")))
	assert.Equal(t, []string{"hi"}, texts(untilResult(t, out)))
}

func TestClient_StartScriptNotFound(t *testing.T) {
	c := newClient(t, &testBackend{}, cli.WithInterpreter("bash", "/nonexistent/agent.sh"))

	err := c.Start(testCtx(t), interactive())
	require.ErrorIs(t, err, agentpipe.ErrNotFound)
	assert.Equal(t, agentpipe.StateNotStarted, c.State())
}

func TestClient_StartInvalidWorkDir(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent}, cli.WithWorkDir("relative/dir"))

	err := c.Start(testCtx(t), interactive())
	require.Error(t, err)
	assert.Equal(t, agentpipe.StateNotStarted, c.State())
}

func TestClient_StartInvalidConfig(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})

	err := c.Start(testCtx(t), agentpipe.Config{Mode: "batch"})
	require.Error(t, err)
	assert.Equal(t, agentpipe.StateNotStarted, c.State())
}

func TestClient_RestartAfterShutdown(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, &testBackend{script: echoAgent}, cli.WithRegisterer(reg))

	require.NoError(t, c.Start(testCtx(t), interactive()))
	first, _ := c.Session()
	require.NoError(t, c.Shutdown(testCtx(t)))

	require.NoError(t, c.Start(testCtx(t), interactive()))
	second, _ := c.Session()
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, agentpipe.StateRunning, c.State())
	assert.Equal(t, float64(2), testutil.ToFloat64(c.Metrics().SessionsStarted))
	assert.Equal(t, float64(agentpipe.StateRunning), testutil.ToFloat64(c.Metrics().State))
}

func TestClient_ShutdownNotRunning(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})
	require.NoError(t, c.Shutdown(testCtx(t)))
	assert.Equal(t, agentpipe.StateNotStarted, c.State())
}

func TestClient_ShutdownIdempotent(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	var wg sync.WaitGroup
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Shutdown(testCtx(t)))
		}()
	}
	wg.Wait()
	assert.Equal(t, agentpipe.StateStopped, c.State())
}

func TestClient_DesyncHeal(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, &testBackend{script: `exit 0`}, cli.WithRegisterer(reg))

	require.NoError(t, c.Start(testCtx(t), interactive()))
	require.NoError(t, c.Wait(testCtx(t)))
	// The process is gone but nobody observed it.
	assert.Equal(t, agentpipe.StateRunning, c.State())

	require.NoError(t, c.Start(testCtx(t), interactive()))
	assert.Equal(t, agentpipe.StateRunning, c.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().DesyncHeals))
}

func TestClient_WaitExitCode(t *testing.T) {
	c := newClient(t, &testBackend{script: `exit 3`})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	err := c.Wait(testCtx(t))
	code, ok := agentpipe.ExitCode(err)
	require.True(t, ok, "want ExitError, got %v", err)
	assert.Equal(t, 3, code)
}

func TestClient_WaitNoSession(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})
	require.ErrorIs(t, c.Wait(testCtx(t)), agentpipe.ErrInvalidState)
}

func TestClient_SystemPromptFile(t *testing.T) {
	var promptFile string
	b := &testBackend{
		script: echoAgent,
		argsFn: func(_ agentpipe.Config, p string) { promptFile = p },
	}
	c := newClient(t, b)

	cfg := interactive()
	cfg.SystemPrompt = "be brief"
	require.NoError(t, c.Start(testCtx(t), cfg))

	require.NotEmpty(t, promptFile)
	data, err := os.ReadFile(promptFile)
	require.NoError(t, err)
	assert.Equal(t, "be brief", string(data))

	require.NoError(t, c.Shutdown(testCtx(t)))
	_, err = os.Stat(promptFile)
	assert.True(t, errors.Is(err, os.ErrNotExist), "prompt file should be removed, stat err = %v", err)
}

func TestClient_Env(t *testing.T) {
	c := newClient(t, &testBackend{script: `read -r line; printf '{"kind":"assistant","text":"%s"}\n' "$AGENTPIPE_TEST"; echo '{"kind":"result"}'`},
		cli.WithEnv(map[string]string{"AGENTPIPE_TEST": "from-env"}))
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("go"))
	require.NoError(t, err)
	assert.Equal(t, []string{"from-env"}, texts(collect(t, out)))
}

func TestClient_EnvInvalidKey(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent}, cli.WithEnv(map[string]string{"A=B": "x"}))
	require.Error(t, c.Start(testCtx(t), interactive()))
	assert.Equal(t, agentpipe.StateNotStarted, c.State())
}

// ---------------------------------------------------------------------------
// OneShot
// ---------------------------------------------------------------------------

func TestClient_OneShot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newClient(t, &testBackend{script: oneShotAgent})
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("hello"))
	require.NoError(t, err)
	msgs := collect(t, out)

	require.Len(t, msgs, 2)
	assert.Equal(t, agentpipe.MessageText, msgs[0].Type)
	assert.Equal(t, "hello", msgs[0].Content)
	last := msgs[len(msgs)-1]
	assert.Equal(t, agentpipe.MessageTurnResult, last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, "done", last.Result.Result)
	for _, m := range msgs {
		assert.False(t, m.Timestamp.IsZero())
	}

	// Stopped only after the result was delivered and the process exited.
	assert.Equal(t, agentpipe.StateStopped, c.State())
	require.NoError(t, c.Wait(testCtx(t)))

	info, _ := c.Session()
	assert.Equal(t, "agent-1", info.ID)
	assert.Equal(t, "test-model", info.Model)
}

func TestClient_RestartAfterOneShot(t *testing.T) {
	c := newClient(t, &testBackend{script: oneShotAgent})

	for i := range 2 {
		require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}), "start %d", i)
		assert.Equal(t, agentpipe.StateRunning, c.State())

		out, err := c.Submit(testCtx(t), agentpipe.TextMessage("turn"))
		require.NoError(t, err)
		msgs := collect(t, out)
		require.NotEmpty(t, msgs)
		assert.Equal(t, agentpipe.MessageTurnResult, msgs[len(msgs)-1].Type)
		assert.Equal(t, agentpipe.StateStopped, c.State(), "after turn %d", i)
	}
}

// waitBlocked waits until the pump has filled a one-slot output buffer and
// the agent has exited, so the pump is parked on its next delivery.
func waitBlocked(t *testing.T, c *cli.Client, out <-chan agentpipe.Message) {
	t.Helper()
	require.Eventually(t, func() bool { return len(out) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, c.Wait(testCtx(t)))
	time.Sleep(50 * time.Millisecond)
}

func TestClient_StaleOneShotKeepsNewSessionRunning(t *testing.T) {
	c := newClient(t, &testBackend{script: oneShotAgent}, cli.WithOutputBuffer(1))
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	old, err := c.Submit(testCtx(t), agentpipe.TextMessage("first"))
	require.NoError(t, err)
	waitBlocked(t, c, old)

	require.NoError(t, c.Shutdown(testCtx(t)))
	require.Equal(t, agentpipe.StateStopped, c.State())
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	// The old consumer finishes after the new session is up.
	collect(t, old)
	assert.Equal(t, agentpipe.StateRunning, c.State())

	// The new agent is still alive and serves its own turn.
	waitCtx, cancel := context.WithTimeout(testCtx(t), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Wait(waitCtx), context.DeadlineExceeded)

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("second"))
	require.NoError(t, err)
	assert.Equal(t, []string{"second"}, texts(collect(t, out)))
	assert.Equal(t, agentpipe.StateStopped, c.State())
}

func TestClient_HealWhileOneShotConsumerStalled(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, &testBackend{script: oneShotAgent}, cli.WithOutputBuffer(1), cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	old, err := c.Submit(testCtx(t), agentpipe.TextMessage("first"))
	require.NoError(t, err)
	waitBlocked(t, c, old)
	// The agent is gone but its consumer has not finished the turn.
	require.Equal(t, agentpipe.StateRunning, c.State())

	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().DesyncHeals))

	collect(t, old)
	assert.Equal(t, agentpipe.StateRunning, c.State())
}

func TestClient_OneShotKeepsResumeID(t *testing.T) {
	c := newClient(t, &testBackend{script: oneShotAgent})
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{ResumeID: "resume-7"}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("hello"))
	require.NoError(t, err)
	collect(t, out)

	info, _ := c.Session()
	assert.Equal(t, "resume-7", info.ID)
}

func TestClient_OneShotNoSessionStarted(t *testing.T) {
	c := newClient(t, &testBackend{script: oneShotAgent})
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("hello"))
	require.NoError(t, err)
	for _, m := range collect(t, out) {
		assert.NotEqual(t, agentpipe.MessageSessionStarted, m.Type)
	}
}

func TestClient_OneShotAgentLingers(t *testing.T) {
	reg := prometheus.NewRegistry()
	script := `read -r line; echo '{"kind":"result","result":"done"}'; trap '' TERM; sleep 30`
	c := newClient(t, &testBackend{script: script},
		cli.WithShutdownTimeout(200*time.Millisecond), cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("hello"))
	require.NoError(t, err)
	msgs := collect(t, out)

	require.NotEmpty(t, msgs)
	assert.Equal(t, agentpipe.MessageTurnResult, msgs[len(msgs)-1].Type)
	assert.Equal(t, agentpipe.StateStopped, c.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().ForcedKills))
}

func TestClient_OneShotCrashBeforeResult(t *testing.T) {
	c := newClient(t, &testBackend{script: `read -r line; echo '{"kind":"assistant","text":"partial"}'; exit 2`})
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("hello"))
	require.NoError(t, err)
	msgs := collect(t, out)

	assert.Equal(t, []string{"partial"}, texts(msgs))
	assert.Equal(t, agentpipe.StateStopped, c.State())
	code, ok := agentpipe.ExitCode(c.Wait(testCtx(t)))
	require.True(t, ok)
	assert.Equal(t, 2, code)
}

func TestClient_OneShotErrorNotRetried(t *testing.T) {
	reg := prometheus.NewRegistry()
	script := `read -r line
echo '{"kind":"assistant","text":"working"}'
echo '{"kind":"result","is_error":true,"result":"boom"}'`
	c := newClient(t, &testBackend{script: script}, cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("hello"))
	require.NoError(t, err)
	msgs := collect(t, out)

	last := msgs[len(msgs)-1]
	require.Equal(t, agentpipe.MessageTurnResult, last.Type)
	assert.True(t, last.Result.IsError)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.Metrics().RetryTurns))
}

func TestClient_SubmitTwice(t *testing.T) {
	c := newClient(t, &testBackend{script: `read -r line; sleep 1; echo '{"kind":"result"}'`})
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("one"))
	require.NoError(t, err)

	_, err = c.Submit(testCtx(t), agentpipe.TextMessage("two"))
	require.ErrorIs(t, err, agentpipe.ErrInvalidState)
	collect(t, out)
}

func TestClient_SubmitEmptyTurn(t *testing.T) {
	c := newClient(t, &testBackend{script: oneShotAgent})
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	_, err := c.Submit(testCtx(t))
	require.Error(t, err)

	// A formatting failure does not consume the turn.
	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("hello"))
	require.NoError(t, err)
	collect(t, out)
}

func TestClient_ModeMismatch(t *testing.T) {
	t.Run("subscribe in oneshot", func(t *testing.T) {
		c := newClient(t, &testBackend{script: oneShotAgent})
		require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))
		_, err := c.Subscribe(testCtx(t))
		require.ErrorIs(t, err, agentpipe.ErrUnsupported)
		require.ErrorIs(t, c.Send(testCtx(t), agentpipe.TextMessage("x")), agentpipe.ErrUnsupported)
	})
	t.Run("submit in interactive", func(t *testing.T) {
		c := newClient(t, &testBackend{script: echoAgent})
		require.NoError(t, c.Start(testCtx(t), interactive()))
		_, err := c.Submit(testCtx(t), agentpipe.TextMessage("x"))
		require.ErrorIs(t, err, agentpipe.ErrUnsupported)
	})
}

func TestClient_NotStarted(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})

	_, err := c.Subscribe(testCtx(t))
	require.ErrorIs(t, err, agentpipe.ErrInvalidState)
	_, err = c.Submit(testCtx(t), agentpipe.TextMessage("x"))
	require.ErrorIs(t, err, agentpipe.ErrInvalidState)
	require.ErrorIs(t, c.Send(testCtx(t), agentpipe.TextMessage("x")), agentpipe.ErrInvalidState)
	require.ErrorIs(t, c.CloseInput(), agentpipe.ErrInvalidState)
}

// ---------------------------------------------------------------------------
// Interactive
// ---------------------------------------------------------------------------

func TestClient_InteractiveTurns(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	out, err := c.Subscribe(testCtx(t))
	require.NoError(t, err)

	for _, word := range []string{"one", "two", "three"} {
		require.NoError(t, c.Send(testCtx(t), agentpipe.TextMessage(word)))
		msgs := untilResult(t, out)
		assert.Equal(t, []string{word}, texts(msgs))
	}
	assert.Equal(t, agentpipe.StateRunning, c.State())
}

func TestClient_InteractiveSessionStarted(t *testing.T) {
	script := `while IFS= read -r line; do
  echo '{"kind":"init","session_id":"agent-9"}'
  printf '{"kind":"assistant","text":"%s"}\n' "$line"
  echo '{"kind":"result"}'
done`
	c := newClient(t, &testBackend{script: script})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	out, err := c.Subscribe(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, c.Send(testCtx(t), agentpipe.TextMessage("hi")))

	msgs := untilResult(t, out)
	require.Len(t, msgs, 3)
	assert.Equal(t, agentpipe.MessageSessionStarted, msgs[0].Type)
	require.NotNil(t, msgs[0].Session)
	assert.Equal(t, "agent-9", msgs[0].Session.SessionID)

	info, _ := c.Session()
	assert.Equal(t, "agent-9", info.ID)
}

func TestClient_SecondSubscriber(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	ctx, cancel := context.WithCancel(testCtx(t))
	out, err := c.Subscribe(ctx)
	require.NoError(t, err)

	_, err = c.Subscribe(testCtx(t))
	require.ErrorIs(t, err, agentpipe.ErrInvalidState)

	cancel()
	collect(t, out)

	// The slot is free once the first channel closed.
	_, err = c.Subscribe(testCtx(t))
	require.NoError(t, err)
}

func TestClient_ResubscribeLosesNothing(t *testing.T) {
	script := `while IFS= read -r line; do
  for i in 1 2 3 4 5; do printf '{"kind":"assistant","text":"%s-%d"}\n' "$line" "$i"; done
  echo '{"kind":"result"}'
done`
	c := newClient(t, &testBackend{script: script}, cli.WithOutputBuffer(1))
	require.NoError(t, c.Start(testCtx(t), interactive()))
	require.NoError(t, c.Send(testCtx(t), agentpipe.TextMessage("a")))

	var got []agentpipe.Message

	// First subscriber reads one message and walks away.
	ctx, cancel := context.WithCancel(testCtx(t))
	out, err := c.Subscribe(ctx)
	require.NoError(t, err)
	got = append(got, <-out)
	cancel()
	got = append(got, collect(t, out)...)

	out, err = c.Subscribe(testCtx(t))
	require.NoError(t, err)
	got = append(got, untilResult(t, out)...)

	assert.Equal(t, []string{"a-1", "a-2", "a-3", "a-4", "a-5"}, texts(got))
	assert.Equal(t, agentpipe.MessageTurnResult, got[len(got)-1].Type)
}

func TestClient_ConcurrentSend(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, &testBackend{script: echoAgent}, cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), interactive()))

	out, err := c.Subscribe(testCtx(t))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Send(testCtx(t), agentpipe.TextMessage("turn-"+strconv.Itoa(i))))
		}()
	}
	wg.Wait()

	var got []string
	for range n {
		got = append(got, texts(untilResult(t, out))...)
	}
	sort.Strings(got)

	var want []string
	for i := range n {
		want = append(want, "turn-"+strconv.Itoa(i))
	}
	sort.Strings(want)
	assert.Equal(t, want, got)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.Metrics().MalformedLines))
}

func TestClient_MalformedLinesSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	script := `read -r line
echo 'not json'
echo ''
echo '{"kind":"summary","text":"compacted"}'
echo '{"kind":"mystery"}'
echo '{"kind":"assistant","text":"fine"}'
echo '{"kind":"result"}'`
	c := newClient(t, &testBackend{script: script}, cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("go"))
	require.NoError(t, err)
	msgs := collect(t, out)

	assert.Equal(t, []string{"fine"}, texts(msgs))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().MalformedLines))
}

func TestClient_OversizedLineSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	script := `read -r line
head -c 5000 /dev/zero | tr '\0' 'x'; echo
echo '{"kind":"assistant","text":"after"}'
echo '{"kind":"result"}'`
	c := newClient(t, &testBackend{script: script}, cli.WithScannerBuffer(1024), cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), agentpipe.Config{}))

	out, err := c.Submit(testCtx(t), agentpipe.TextMessage("go"))
	require.NoError(t, err)

	assert.Equal(t, []string{"after"}, texts(collect(t, out)))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().MalformedLines))
}

func TestClient_SendAfterCloseInput(t *testing.T) {
	c := newClient(t, &testBackend{script: `sleep 5`})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	require.NoError(t, c.CloseInput())
	require.ErrorIs(t, c.Send(testCtx(t), agentpipe.TextMessage("x")), agentpipe.ErrInputClosed)
}

// ---------------------------------------------------------------------------
// Retry
// ---------------------------------------------------------------------------

const retryAgent = `IFS= read -r line
echo '{"kind":"assistant","text":"working"}'
echo '{"kind":"result","is_error":true,"result":"boom"}'
IFS= read -r retry
printf '{"kind":"assistant","text":"%s"}\n' "$retry"
echo '{"kind":"result","result":"recovered"}'
while IFS= read -r line; do :; done`

func TestClient_RetryAfterError(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, &testBackend{script: retryAgent},
		cli.WithRetryPrompt("try again"), cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), interactive()))

	out, err := c.Subscribe(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, c.Send(testCtx(t), agentpipe.TextMessage("task")))

	msgs := untilResult(t, out)
	assert.Equal(t, []string{"working", "try again"}, texts(msgs))
	last := msgs[len(msgs)-1]
	assert.False(t, last.Result.IsError)
	assert.Equal(t, "recovered", last.Result.Result)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().RetryTurns))
}

func TestClient_RetryOnlyOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	script := `IFS= read -r line
echo '{"kind":"assistant","text":"working"}'
echo '{"kind":"result","is_error":true,"result":"boom"}'
IFS= read -r retry
echo '{"kind":"assistant","text":"still working"}'
echo '{"kind":"result","is_error":true,"result":"boom again"}'
while IFS= read -r line; do :; done`
	c := newClient(t, &testBackend{script: script}, cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), interactive()))

	out, err := c.Subscribe(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, c.Send(testCtx(t), agentpipe.TextMessage("task")))

	msgs := untilResult(t, out)
	last := msgs[len(msgs)-1]
	assert.True(t, last.Result.IsError)
	assert.Equal(t, "boom again", last.Result.Result)
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().RetryTurns))
}

func TestClient_NoRetryWithoutAssistantOutput(t *testing.T) {
	reg := prometheus.NewRegistry()
	script := `IFS= read -r line
echo '{"kind":"result","is_error":true,"result":"refused"}'
while IFS= read -r line; do :; done`
	c := newClient(t, &testBackend{script: script}, cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), interactive()))

	out, err := c.Subscribe(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, c.Send(testCtx(t), agentpipe.TextMessage("task")))

	msgs := untilResult(t, out)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Result.IsError)
	assert.Equal(t, float64(0), testutil.ToFloat64(c.Metrics().RetryTurns))
}

// ---------------------------------------------------------------------------
// Shutdown
// ---------------------------------------------------------------------------

func TestClient_ShutdownExitDirective(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, &exitBackend{testBackend{script: exitAwareAgent}}, cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), interactive()))

	start := time.Now()
	require.NoError(t, c.Shutdown(testCtx(t)))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, agentpipe.StateStopped, c.State())
	assert.Equal(t, float64(0), testutil.ToFloat64(c.Metrics().ForcedKills))
	require.NoError(t, c.Wait(testCtx(t)))
}

func TestClient_ShutdownClosesStdin(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := newClient(t, &testBackend{script: echoAgent}, cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), interactive()))

	require.NoError(t, c.Shutdown(testCtx(t)))
	assert.Equal(t, float64(0), testutil.ToFloat64(c.Metrics().ForcedKills))
	require.NoError(t, c.Wait(testCtx(t)))
}

func TestClient_ShutdownForcesUnresponsiveAgent(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reg := prometheus.NewRegistry()
	c := newClient(t, &testBackend{script: stubbornAgent}, cli.WithRegisterer(reg))
	require.NoError(t, c.Start(testCtx(t), interactive()))

	const timeout = 500 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	require.NoError(t, c.Shutdown(ctx))
	assert.Less(t, time.Since(start), timeout+2*time.Second)
	assert.Equal(t, agentpipe.StateStopped, c.State())
	assert.Equal(t, float64(1), testutil.ToFloat64(c.Metrics().ForcedKills))

	code, ok := agentpipe.ExitCode(c.Wait(testCtx(t)))
	require.True(t, ok)
	assert.Equal(t, -1, code)
}

func TestClient_ShutdownKillsDescendants(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "child.pid")
	script := `trap '' TERM; (trap '' TERM; sleep 30) & echo $! > ` + pidFile + `; sleep 30`
	c := newClient(t, &testBackend{script: script}, cli.WithShutdownTimeout(200*time.Millisecond))
	require.NoError(t, c.Start(testCtx(t), interactive()))

	var pid int
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(pidFile)
		if err != nil || len(data) == 0 {
			return false
		}
		pid, err = strconv.Atoi(string(data[:len(data)-1]))
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, c.Shutdown(context.Background()))
	assert.Eventually(t, func() bool {
		return !processAlive(pid)
	}, 3*time.Second, 20*time.Millisecond, "descendant %d survived shutdown", pid)
}

func TestClient_ShutdownWithLingeringDescendant(t *testing.T) {
	// The agent exits but a background child keeps stdout and stderr open.
	c := newClient(t, &testBackend{script: `sleep 5 & IFS= read -r line; exit 0`})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	start := time.Now()
	require.NoError(t, c.Shutdown(testCtx(t)))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, agentpipe.StateStopped, c.State())
}

func TestClient_ShutdownEndsSubscription(t *testing.T) {
	c := newClient(t, &testBackend{script: echoAgent})
	require.NoError(t, c.Start(testCtx(t), interactive()))

	out, err := c.Subscribe(testCtx(t))
	require.NoError(t, err)
	require.NoError(t, c.Shutdown(testCtx(t)))
	collect(t, out)
}

// processAlive reports whether pid exists and is not a zombie.
func processAlive(pid int) bool {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return false
	}
	// The state field follows the parenthesized command name.
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == ')' {
			return i+2 < len(data) && data[i+2] != 'Z'
		}
	}
	return true
}
