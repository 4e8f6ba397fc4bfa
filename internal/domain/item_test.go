package domain

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to ItemState }{
		{ItemStateReceived, ItemStateMatching},
		{ItemStateReceived, ItemStateFailed},
		{ItemStateMatching, ItemStateThumbnailing},
		{ItemStateMatching, ItemStateFailed},
		{ItemStateMatching, ItemStateReceived},
		{ItemStateThumbnailing, ItemStateDone},
		{ItemStateThumbnailing, ItemStateFailed},
		{ItemStateThumbnailing, ItemStateReceived},
		{ItemStateDone, ItemStateMatching},
		{ItemStateDone, ItemStateThumbnailing},
		{ItemStateFailed, ItemStateMatching},
		{ItemStateFailed, ItemStateThumbnailing},
	}
	for _, tt := range allowed {
		if err := tt.from.CanTransition(tt.to); err != nil {
			t.Errorf("%s -> %s should be allowed: %v", tt.from, tt.to, err)
		}
	}

	denied := []struct{ from, to ItemState }{
		{ItemStateReceived, ItemStateDone},
		{ItemStateReceived, ItemStateThumbnailing},
		{ItemStateMatching, ItemStateDone},
		{ItemStateThumbnailing, ItemStateMatching},
		{ItemStateDone, ItemStateReceived},
		{ItemStateDone, ItemStateFailed},
		{ItemStateFailed, ItemStateDone},
		{ItemStateFailed, ItemStateReceived},
	}
	for _, tt := range denied {
		err := tt.from.CanTransition(tt.to)
		var tErr *InvalidTransitionError
		if !errors.As(err, &tErr) {
			t.Errorf("%s -> %s should be denied, got %v", tt.from, tt.to, err)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []ItemState{ItemStateDone, ItemStateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []ItemState{ItemStateReceived, ItemStateMatching, ItemStateThumbnailing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestErrorClassification(t *testing.T) {
	if !IsTransient(Transient(errors.New("timeout"))) {
		t.Error("Transient wrapper not detected")
	}
	if IsTransient(errors.New("plain")) {
		t.Error("plain error classified transient")
	}
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}

	ce := &CorruptInputError{Reason: "undecodable image"}
	if !IsCorruptInput(ce) {
		t.Error("CorruptInputError not detected")
	}
	if IsCorruptInput(Transient(errors.New("io"))) {
		t.Error("transient error classified corrupt")
	}
}
