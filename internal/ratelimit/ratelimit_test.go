package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNilLimiterAllows(t *testing.T) {
	var l *Limiter
	if !l.Allow(context.Background(), "login:1.2.3.4", 1, time.Minute) {
		t.Fatalf("nil limiter must allow")
	}
}

func TestUnconfiguredLimiterAllows(t *testing.T) {
	l := New(nil, nil)
	for i := 0; i < 100; i++ {
		if !l.Allow(context.Background(), "login:1.2.3.4", 1, time.Minute) {
			t.Fatalf("limiter without redis must allow")
		}
	}
}
