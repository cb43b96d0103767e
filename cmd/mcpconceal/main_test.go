package main

import (
	"reflect"
	"testing"
)

func TestFlattenTargetArgs_Repeated(t *testing.T) {
	got := flattenTargetArgs([]string{"--flag", "value"})
	want := []string{"--flag", "value"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFlattenTargetArgs_SpaceJoined(t *testing.T) {
	got := flattenTargetArgs([]string{"--flag value --other thing"})
	want := []string{"--flag", "value", "--other", "thing"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFlattenTargetArgs_Empty(t *testing.T) {
	if got := flattenTargetArgs(nil); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}
