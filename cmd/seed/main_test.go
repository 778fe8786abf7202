package main

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"phonepos/backend/internal/config"
	"phonepos/backend/internal/docstore/memory"
)

func TestValidateConfigRejectsIncompleteBackends(t *testing.T) {
	cases := []config.Config{
		{StoreBackend: config.BackendMongo, MongoDatabase: "phonepos", OrderNumberPrefix: "ORD-"},
		{StoreBackend: config.BackendPostgres, OrderNumberPrefix: "ORD-"},
		{StoreBackend: "sqlite", OrderNumberPrefix: "ORD-"},
		{StoreBackend: config.BackendMemory},
	}
	for _, cfg := range cases {
		if err := validateConfig(cfg); err == nil {
			t.Fatalf("expected %+v to be rejected", cfg)
		}
	}
}

func TestValidateConfigAcceptsCompleteBackends(t *testing.T) {
	cases := []config.Config{
		{StoreBackend: config.BackendMemory, OrderNumberPrefix: "ORD-"},
		{StoreBackend: config.BackendMongo, MongoURI: "mongodb://localhost:27017", MongoDatabase: "phonepos", OrderNumberPrefix: "ORD-"},
		{StoreBackend: config.BackendPostgres, DatabaseURL: "postgres://localhost/phonepos", OrderNumberPrefix: "#"},
	}
	for _, cfg := range cases {
		if err := validateConfig(cfg); err != nil {
			t.Fatalf("expected %+v to pass, got %v", cfg, err)
		}
	}
}

func TestOpenStoreDefaultsToMemory(t *testing.T) {
	store, err := openStore(context.Background(), config.Config{StoreBackend: config.BackendMemory, TxMaxAttempts: 3}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	if _, ok := store.(*memory.Store); !ok {
		t.Fatalf("expected in-memory store, got %T", store)
	}
}
