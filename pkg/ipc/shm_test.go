package ipc

import (
	"context"
	"testing"
	"time"
)

func TestServicePublishSubscribeOutbound(t *testing.T) {
	svc, err := OpenService(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	defer svc.Close()

	reader := svc.SubscribeOutbound()

	want := Record{TopicName: "notify.user", PayloadJSON: `{"a":1}`, Priority: 1, Timestamp: 42, Source: "core"}
	if err := svc.PublishOutbound(want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := reader.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNewSubscriberDoesNotSeePastRecords(t *testing.T) {
	svc, err := OpenService(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	defer svc.Close()

	if err := svc.PublishOutbound(Record{TopicName: "before", Source: "core"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	reader := svc.SubscribeOutbound()

	if err := svc.PublishOutbound(Record{TopicName: "after", Source: "core"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := reader.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got.TopicName != "after" {
		t.Fatalf("expected new subscriber to skip past records, got %q", got.TopicName)
	}
}

func TestReaderCancellation(t *testing.T) {
	svc, err := OpenService(t.TempDir(), 8)
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	defer svc.Close()

	reader := svc.SubscribeOutbound()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := reader.Next(ctx); err == nil {
		t.Fatal("expected context deadline error when nothing is published")
	}
}
