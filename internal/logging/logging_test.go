package logging

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewQuietRaisesLevel(t *testing.T) {
	log := New(true)
	if log.GetLevel() != zerolog.WarnLevel {
		t.Errorf("expected WarnLevel when quiet, got %v", log.GetLevel())
	}
}

func TestNewDefaultLevel(t *testing.T) {
	log := New(false)
	if log.GetLevel() != zerolog.InfoLevel {
		t.Errorf("expected InfoLevel by default, got %v", log.GetLevel())
	}
}
