package oracle

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kalambet/dailymatch/internal/engine"
	"github.com/kalambet/dailymatch/internal/match"
)

// scriptedEngine returns responses in order; the last one repeats.
type scriptedEngine struct {
	responses []string
	errs      []error
	block     bool
	calls     atomic.Int32
	lastMsgs  []engine.Message
	gotSchema *engine.Schema
}

func (s *scriptedEngine) Name() string                   { return "scripted" }
func (s *scriptedEngine) IsRunning(context.Context) bool { return true }
func (s *scriptedEngine) Chat(ctx context.Context, _ string, msgs []engine.Message, schema *engine.Schema) (string, error) {
	i := int(s.calls.Add(1)) - 1
	s.lastMsgs = msgs
	s.gotSchema = schema
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if len(s.responses) == 0 {
		return "", errors.New("no response scripted")
	}
	return s.responses[min(i, len(s.responses)-1)], nil
}

const twoMemberProposal = `{"clusters":[{"members":[{"participant_id":"a","affinity":0.8},{"participant_id":"b","affinity":0.8}],"pairs":[{"from":"a","to":"b","relation":"similar","score":0.6}]}]}`

func TestLLM_ProposeParsesResponse(t *testing.T) {
	eng := &scriptedEngine{responses: []string{twoMemberProposal}}
	o := NewLLM(eng, "test-model")

	p, err := o.Propose(context.Background(), poolRequest("a", "b"))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	if len(p.Clusters) != 1 {
		t.Fatalf("clusters = %d", len(p.Clusters))
	}
	if eng.gotSchema == nil || eng.gotSchema.Properties["clusters"] == nil {
		t.Error("schema not sent with request")
	}
	if len(eng.lastMsgs) != 2 || eng.lastMsgs[0].Role != engine.RoleSystem {
		t.Errorf("messages = %+v", eng.lastMsgs)
	}
}

func TestLLM_MalformedIsUnavailable(t *testing.T) {
	eng := &scriptedEngine{responses: []string{`{"clusters":[{"members":[{"participant_id":"ghost","affinity":1}],"pairs":[]}]}`}}
	_, err := NewLLM(eng, "m").Propose(context.Background(), poolRequest("a", "b"))
	if !errors.Is(err, match.ErrOracleUnavailable) {
		t.Fatalf("error = %v, want OracleUnavailable", err)
	}
	if !match.Retryable(err) {
		t.Error("malformed proposals should be retryable")
	}
}

func TestLLM_TimeoutIsUnavailable(t *testing.T) {
	eng := &scriptedEngine{block: true}
	o := NewLLM(eng, "m", WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := o.Propose(context.Background(), poolRequest("a"))
	if !errors.Is(err, match.ErrOracleUnavailable) {
		t.Fatalf("error = %v, want OracleUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline cause", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Propose took %s, timeout not applied", elapsed)
	}
}

func TestLLM_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	failures := make([]error, breakerTripFailures)
	for i := range failures {
		failures[i] = errors.New("connection refused")
	}
	eng := &scriptedEngine{errs: failures, responses: []string{twoMemberProposal}}

	var transitions []string
	o := NewLLM(eng, "m", WithStateListener(func(_ string, from, to gobreaker.State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))

	for range breakerTripFailures {
		if _, err := o.Propose(context.Background(), poolRequest("a", "b")); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := o.Propose(context.Background(), poolRequest("a", "b"))
	if !errors.Is(err, match.ErrOracleUnavailable) || !strings.Contains(err.Error(), "circuit open") {
		t.Fatalf("error = %v, want circuit open", err)
	}
	if got := eng.calls.Load(); got != breakerTripFailures {
		t.Errorf("engine calls = %d, want %d (open breaker must not call through)", got, breakerTripFailures)
	}
	if len(transitions) != 1 || transitions[0] != "closed->open" {
		t.Errorf("transitions = %v", transitions)
	}
}

func TestBuildPrompt(t *testing.T) {
	req := poolRequest("a", "b")
	req.Question = "Which character changed the most?"
	req.Entries[0].Review = strings.Repeat("x", maxTextRunes+50)

	msgs, err := BuildPrompt(req)
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	if !strings.Contains(msgs[0].Content, "between 5 and 7 members") {
		t.Errorf("system prompt missing size rule: %q", msgs[0].Content)
	}
	if !strings.Contains(msgs[0].Content, "at least 3 members of one gender") {
		t.Error("system prompt missing gender rule")
	}
	user := msgs[1].Content
	if !strings.HasPrefix(user, "Today's question: Which character") {
		t.Errorf("user prompt = %q", user[:40])
	}
	if strings.Contains(user, strings.Repeat("x", maxTextRunes+1)) {
		t.Error("long review was not truncated")
	}
	if !strings.Contains(user, `"participant_id": "b"`) {
		t.Error("entries not embedded")
	}
}
