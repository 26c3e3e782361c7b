package khata

import (
	"context"
	"testing"
)

func TestGetOrCreateConvergesOnSpelling(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	shop := mustShopKey(test, "+919876543210")

	first, err := resolver.GetOrCreate(context.Background(), shop, "Raju")
	if err != nil {
		test.Fatalf("get or create: %v", err)
	}
	second, err := resolver.GetOrCreate(context.Background(), shop, "  raju ")
	if err != nil {
		test.Fatalf("get or create: %v", err)
	}
	if first.CustomerID != second.CustomerID {
		test.Fatalf("expected one identity, got %s and %s", first.CustomerID, second.CustomerID)
	}
	if len(store.customers) != 1 {
		test.Fatalf("expected 1 stored customer, got %d", len(store.customers))
	}
}

func TestResolveMergesPhoneticVariants(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	shop := mustShopKey(test, "+919876543210")

	if _, err := resolver.GetOrCreate(context.Background(), shop, "Raju"); err != nil {
		test.Fatalf("get or create: %v", err)
	}
	if _, err := resolver.GetOrCreate(context.Background(), shop, "Raaju"); err != nil {
		test.Fatalf("get or create: %v", err)
	}

	resolution, err := resolver.Resolve(context.Background(), shop, "Rajuu")
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if len(resolution.Customers) != 2 {
		test.Fatalf("expected both spelling variants, got %d", len(resolution.Customers))
	}
}

func TestResolveNeverMergesDistinctNames(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	shop := mustShopKey(test, "+919876543210")

	if _, err := resolver.GetOrCreate(context.Background(), shop, "Raju"); err != nil {
		test.Fatalf("get or create: %v", err)
	}
	if _, err := resolver.GetOrCreate(context.Background(), shop, "Sita"); err != nil {
		test.Fatalf("get or create: %v", err)
	}

	resolution, err := resolver.Resolve(context.Background(), shop, "Raju")
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if len(resolution.Customers) != 1 {
		test.Fatalf("expected exactly one match, got %d", len(resolution.Customers))
	}
	if resolution.Customers[0].Name != "Raju" {
		test.Fatalf("expected Raju, got %s", resolution.Customers[0].Name)
	}
}

func TestResolveReturnsSubstringSuggestions(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	shop := mustShopKey(test, "+919876543210")

	if _, err := resolver.GetOrCreate(context.Background(), shop, "Ramesh Kumar"); err != nil {
		test.Fatalf("get or create: %v", err)
	}

	resolution, err := resolver.Resolve(context.Background(), shop, "kumar")
	if err != nil {
		test.Fatalf("resolve: %v", err)
	}
	if resolution.Found() {
		test.Fatalf("expected no direct match, got %d", len(resolution.Customers))
	}
	if len(resolution.Suggestions) != 1 || resolution.Suggestions[0] != "Ramesh Kumar" {
		test.Fatalf("unexpected suggestions: %v", resolution.Suggestions)
	}
}

func TestResolveEmptyQueryFails(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	resolver := mustResolver(test, store)
	shop := mustShopKey(test, "+919876543210")

	if _, err := resolver.Resolve(context.Background(), shop, "   "); err == nil {
		test.Fatalf("expected error for empty query")
	}
}

func TestNormalizeNameCollapsesWhitespace(test *testing.T) {
	test.Parallel()
	if got := NormalizeName("  Raju   Bhai "); got != "raju bhai" {
		test.Fatalf("unexpected normalization: %q", got)
	}
}

func TestPhoneticKeyStableAcrossScripts(test *testing.T) {
	test.Parallel()
	if PhoneticKey("राजू") != PhoneticKey("Raju") {
		test.Fatalf("expected devanagari and latin spellings to share a phonetic key")
	}
}
