package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/xaenox/vailentin/internal/models"
	"go.uber.org/zap/zaptest"
)

type fixedScorer struct {
	score float64
	err   error
	calls int
}

func (s *fixedScorer) ScoreImportance(ctx context.Context, text string) (float64, error) {
	s.calls++
	return s.score, s.err
}

func smartChat(threshold float64) *models.Chat {
	return &models.Chat{ID: 1, SmartMode: true, ImportanceThreshold: threshold}
}

func TestDecideSmartModeThreshold(t *testing.T) {
	tests := []struct {
		score   float64
		respond bool
	}{
		{0.81, true},
		{0.80, true},
		{0.79, false},
	}
	for _, tt := range tests {
		g := New(&fixedScorer{score: tt.score}, nil, zaptest.NewLogger(t))
		d := g.Decide(context.Background(), Input{Chat: smartChat(0.8), Text: "deploy went fine"})
		if d.Respond != tt.respond {
			t.Errorf("score %.2f: respond = %v, want %v", tt.score, d.Respond, tt.respond)
		}
		if !d.Scored || d.Score != tt.score {
			t.Errorf("score %.2f: decision score = %v (scored %v)", tt.score, d.Score, d.Scored)
		}
	}
}

func TestDecideScorerFailureUsesDefault(t *testing.T) {
	g := New(&fixedScorer{err: errors.New("timeout")}, nil, zaptest.NewLogger(t))

	d := g.Decide(context.Background(), Input{Chat: smartChat(0.5), Text: "hello there"})
	if !d.Respond || d.Score != 0.5 {
		t.Fatalf("decision = %+v, want respond with default score 0.5", d)
	}

	d = g.Decide(context.Background(), Input{Chat: smartChat(0.6), Text: "hello there"})
	if d.Respond {
		t.Fatalf("default score must not pass threshold 0.6: %+v", d)
	}
}

func TestDecideProbabilityMode(t *testing.T) {
	chat := &models.Chat{ID: 2, ResponseProbability: 1.0}
	g := New(&fixedScorer{}, nil, zaptest.NewLogger(t), WithRandom(func() float64 { return 0.999999 }))
	for i := 0; i < 20; i++ {
		if d := g.Decide(context.Background(), Input{Chat: chat, Text: "lunch"}); !d.Respond {
			t.Fatalf("message %d not answered with probability 1.0", i)
		}
	}

	chat.ResponseProbability = 0
	g = New(&fixedScorer{}, nil, zaptest.NewLogger(t), WithRandom(func() float64 { return 0 }))
	if d := g.Decide(context.Background(), Input{Chat: chat, Text: "lunch"}); d.Respond {
		t.Fatal("answered with probability 0")
	}
}

func TestDecideOverridesPriority(t *testing.T) {
	scorer := &fixedScorer{score: 0}
	g := New(scorer, []string{"Vailentin"}, zaptest.NewLogger(t))

	tests := []struct {
		name    string
		in      Input
		respond bool
		reason  Reason
	}{
		{"shutdown beats everything", Input{ShuttingDown: true, Chat: smartChat(0.1), Text: "vailentin urgent?"}, false, ReasonShutdown},
		{"disabled beats silent", Input{Chat: &models.Chat{IsDisabled: true, IsSilent: true}, Text: "urgent"}, false, ReasonDisabled},
		{"silent beats address", Input{Chat: &models.Chat{IsSilent: true}, Text: "Vailentin, hi"}, false, ReasonSilent},
		{"direct address", Input{Chat: smartChat(0.9), Text: "hey VAILENTIN look"}, true, ReasonAddressed},
		{"question mark", Input{Chat: smartChat(0.9), Text: "anyone here?"}, true, ReasonUrgent},
		{"russian marker", Input{Chat: smartChat(0.9), Text: "Это СРОЧНО"}, true, ReasonUrgent},
		{"falls through to mode", Input{Chat: smartChat(0.9), Text: "ok"}, false, ReasonUnimportant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Decide(context.Background(), tt.in)
			if d.Respond != tt.respond || d.Reason != tt.reason {
				t.Fatalf("decision = %+v, want respond=%v reason=%s", d, tt.respond, tt.reason)
			}
		})
	}
	if scorer.calls != 1 {
		t.Fatalf("scorer called %d times, want only for the fall-through case", scorer.calls)
	}
}
