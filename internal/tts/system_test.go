package tts

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tahcohcat/vocalize-web/internal/catalog"
)

// fakeEspeak re-executes the test binary as a stand-in synthesizer. The mode
// is read on every call so a test can change behaviour between runs.
type fakeEspeak struct {
	mu    sync.Mutex
	mode  string
	calls int
}

func (f *fakeEspeak) setMode(mode string) {
	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
}

func (f *fakeEspeak) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	f.mu.Lock()
	mode := f.mode
	f.calls++
	f.mu.Unlock()

	cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "FAKE_ESPEAK_MODE="+mode)
	return cmd
}

// TestHelperProcess is not a real test; it is the fake espeak-ng binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[2:] // drop "--" and the binary name
			break
		}
		args = args[1:]
	}

	mode := os.Getenv("FAKE_ESPEAK_MODE")
	if len(args) > 0 && args[0] == "--voices" {
		switch mode {
		case "no-voices-binary":
			fmt.Fprintln(os.Stderr, "espeak-ng: not installed")
			os.Exit(127)
		case "no-voices":
			fmt.Println("Pty Language       Age/Gender VoiceName          File                 Other Languages")
		default:
			fmt.Print(espeakVoiceTable)
		}
		return
	}

	switch mode {
	case "silent":
		return
	case "hang":
		time.Sleep(time.Minute)
		return
	case "crash":
		fmt.Fprintln(os.Stderr, "segmentation fault")
		os.Exit(2)
	}

	text, _ := io.ReadAll(os.Stdin)
	fmt.Printf("RIFF|%s|%s", strings.Join(args, " "), text)
}

func newTestSystem(t *testing.T, mode string) (*SystemEngine, *fakeEspeak) {
	t.Helper()
	fake := &fakeEspeak{mode: mode}
	e := NewSystemEngine(catalog.Default(), SystemConfig{})
	e.command = fake.command
	return e, fake
}

func TestSystemSynthesize(t *testing.T) {
	testcases := []struct {
		name       string
		req        Request
		wantVoice  string
		wantGender string
		wantArg    string
	}{
		{
			name:       "british male",
			req:        Request{Text: "Good morning", Language: "english", Accent: "uk", Gender: "male"},
			wantVoice:  "English (Great Britain)",
			wantGender: "male",
			wantArg:    "-v en-gb",
		},
		{
			name:       "american female",
			req:        Request{Text: "Good morning", Language: "english", Accent: "usa", Gender: "female"},
			wantVoice:  "English (America)",
			wantGender: "female",
			wantArg:    "-v en-us",
		},
		{
			name:       "marathi voice",
			req:        Request{Text: "नमस्कार", Language: "marathi", Accent: "india", Gender: "male"},
			wantVoice:  "Marathi",
			wantGender: "male",
			wantArg:    "-v mr",
		},
		{
			name:       "voice hint",
			req:        Request{Text: "Good morning", Language: "english", Accent: "usa", Gender: "male", Voice: "Received Pronunciation"},
			wantVoice:  "English (Received Pronunciation)",
			wantGender: "female",
			wantArg:    "-v en-gb-x-rp",
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newTestSystem(t, "ok")

			res, err := e.Synthesize(context.Background(), tc.req)
			require.NoError(t, err)

			assert.Equal(t, FormatWAV, res.Format)
			assert.Equal(t, SystemEngineID, res.Engine)
			assert.Equal(t, tc.wantVoice, res.VoiceName)
			assert.Equal(t, tc.wantGender, res.ActualGender)

			out := string(res.Audio)
			assert.True(t, strings.HasPrefix(out, "RIFF|--stdin --stdout -s 180 -a 100"), out)
			assert.Contains(t, out, tc.wantArg)
			assert.True(t, strings.HasSuffix(out, "|"+tc.req.Text), out)
		})
	}
}

func TestSystemSynthesizeWithoutVoices(t *testing.T) {
	e, _ := newTestSystem(t, "no-voices")

	res, err := e.Synthesize(context.Background(), Request{Text: "hi", Language: "marathi", Accent: "india", Gender: "female"})
	require.NoError(t, err)

	assert.Equal(t, "System TTS (Female INDIA) (English pronunciation)", res.VoiceName)
	assert.Equal(t, "female", res.ActualGender)
	assert.NotContains(t, string(res.Audio), "-v ")
	assert.False(t, e.HasBothGenders(context.Background()))
}

func TestSystemInitRetriesAfterFailure(t *testing.T) {
	e, fake := newTestSystem(t, "no-voices-binary")
	ctx := context.Background()

	assert.False(t, e.Available(ctx))
	_, err := e.Synthesize(ctx, Request{Text: "hi", Language: "english", Accent: "usa", Gender: "female"})
	assert.ErrorIs(t, err, ErrEngineUnavailable)

	fake.setMode("ok")
	assert.True(t, e.Available(ctx))
	assert.True(t, e.HasBothGenders(ctx))

	voices, err := e.Voices(ctx)
	require.NoError(t, err)
	assert.Len(t, voices, 6)

	// discovery ran once more, then never again
	calls := fake.calls
	_, err = e.Voices(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls, fake.calls)
}

func TestSystemSynthesizeFailures(t *testing.T) {
	t.Run("no output", func(t *testing.T) {
		e, _ := newTestSystem(t, "silent")
		_, err := e.Synthesize(context.Background(), Request{Text: "hi", Gender: "female"})
		assert.ErrorIs(t, err, ErrNoAudio)
	})

	t.Run("process error carries stderr", func(t *testing.T) {
		e, _ := newTestSystem(t, "crash")
		_, err := e.Synthesize(context.Background(), Request{Text: "hi", Gender: "female"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "segmentation fault")
	})

	t.Run("empty text never starts a process", func(t *testing.T) {
		e, fake := newTestSystem(t, "ok")
		_, err := e.Synthesize(context.Background(), Request{Text: ""})
		assert.ErrorIs(t, err, ErrEmptyText)
		assert.Zero(t, fake.calls)
	})
}

func TestSystemInitRunsOnce(t *testing.T) {
	e, fake := newTestSystem(t, "ok")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Synthesize(context.Background(), Request{Text: "hi", Language: "english", Accent: "usa", Gender: "female"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// one voice discovery plus one run per request
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1+16, fake.calls)
}

func TestSystemTimeouts(t *testing.T) {
	req := Request{Text: "hi", Language: "english", Accent: "usa", Gender: "female"}

	t.Run("own timeout", func(t *testing.T) {
		e, fake := newTestSystem(t, "ok")
		require.True(t, e.Available(context.Background()))
		e.timeout = 200 * time.Millisecond
		fake.setMode("hang")

		_, err := e.Synthesize(context.Background(), req)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "timed out after 200ms")
	})

	t.Run("caller deadline is a cancellation", func(t *testing.T) {
		e, fake := newTestSystem(t, "ok")
		require.True(t, e.Available(context.Background()))
		fake.setMode("hang")

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		_, err := e.Synthesize(ctx, req)
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "cancelled")
		assert.NotContains(t, err.Error(), "timed out")
	})
}

// stalledEngine is an online engine that never answers before its context ends.
type stalledEngine struct{}

func (stalledEngine) ID() string                         { return GTTSEngineID }
func (stalledEngine) Name() string                       { return "stalled" }
func (stalledEngine) Kind() Kind                         { return KindOnline }
func (stalledEngine) Available(ctx context.Context) bool { return true }

func (stalledEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestFallbackAfterOnlineStalls(t *testing.T) {
	system, _ := newTestSystem(t, "ok")
	o, err := NewOrchestrator(catalog.Default(), stalledEngine{}, system, nil)
	require.NoError(t, err)
	o.SetFallbackReserve(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	start := time.Now()
	out, err := o.Generate(ctx, GTTSEngineID, Request{Text: "Hello", Language: "english", Accent: "usa", Gender: "female"})
	require.NoError(t, err)

	assert.True(t, out.FallbackUsed)
	assert.Equal(t, SystemEngineID, out.EngineUsed)
	assert.Less(t, time.Since(start), 3*time.Second)
}
