// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package datastore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/pluginhost/internal/datastore"
)

// storeContract runs the shared behaviour every backend must honour.
func storeContract(open func(limits datastore.Limits) datastore.Store) {
	var (
		ctx   context.Context
		store datastore.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = open(datastore.Limits{MaxEntries: 3, MaxKeyBytes: 64, MaxValueBytes: 1024})
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("overwrites and reads back the latest value", func() {
		key := "k-" + ulid.Make().String()

		first, err := store.Set(ctx, key, "v1")
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Version).To(Equal(uint64(1)))

		second, err := store.Set(ctx, key, "v2")
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Version).To(Equal(uint64(2)))

		got, err := store.Get(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Value).To(Equal("v2"))
		Expect(got.Version).To(Equal(uint64(2)))
	})

	It("deletes and reports existence", func() {
		key := "k-" + ulid.Make().String()
		_, err := store.Set(ctx, key, "v")
		Expect(err).NotTo(HaveOccurred())

		existed, err := store.Delete(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(existed).To(BeTrue())

		has, err := store.Has(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(has).To(BeFalse())

		_, err = store.Get(ctx, key)
		Expect(errors.Is(err, datastore.ErrNotFound)).To(BeTrue())
	})

	It("refuses new keys at capacity but still overwrites", func() {
		n, err := store.Len(ctx)
		Expect(err).NotTo(HaveOccurred())

		var keys []string
		for i := n; i < 3; i++ {
			key := fmt.Sprintf("cap-%d-%s", i, ulid.Make().String())
			_, err := store.Set(ctx, key, "v")
			Expect(err).NotTo(HaveOccurred())
			keys = append(keys, key)
		}

		_, err = store.Set(ctx, "overflow-"+ulid.Make().String(), "v")
		Expect(errors.Is(err, datastore.ErrCapacity)).To(BeTrue())

		if len(keys) > 0 {
			_, err = store.Set(ctx, keys[0], "again")
			Expect(err).NotTo(HaveOccurred())
			for _, k := range keys {
				_, _ = store.Delete(ctx, k)
			}
		}
	})

	It("never exceeds capacity under concurrent new keys", func() {
		n, err := store.Len(ctx)
		Expect(err).NotTo(HaveOccurred())
		room := 3 - n

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			accepted []string
		)
		for i := range 12 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				key := fmt.Sprintf("burst-%d-%s", i, ulid.Make().String())
				_, err := store.Set(ctx, key, "v")
				if err != nil {
					Expect(errors.Is(err, datastore.ErrCapacity)).To(BeTrue(), "unexpected error: %v", err)
					return
				}
				mu.Lock()
				accepted = append(accepted, key)
				mu.Unlock()
			}()
		}
		wg.Wait()

		Expect(accepted).To(HaveLen(room))
		total, err := store.Len(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(3))

		for _, k := range accepted {
			_, _ = store.Delete(ctx, k)
		}
	})

	It("serializes concurrent writers to one key", func() {
		key := "race-" + ulid.Make().String()
		var wg sync.WaitGroup
		for range 20 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := store.Set(ctx, key, "x")
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		got, err := store.Get(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Version).To(Equal(uint64(20)))
		_, _ = store.Delete(ctx, key)
	})
}

var _ = Describe("PostgresStore", Ordered, func() {
	BeforeAll(func() {
		m, err := datastore.NewMigrator(env.pgURL)
		Expect(err).NotTo(HaveOccurred())
		Expect(m.Up()).To(Succeed())
		pending, err := m.Pending()
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(BeEmpty())
		Expect(m.Close()).To(Succeed())
	})

	storeContract(func(limits datastore.Limits) datastore.Store {
		s, err := datastore.OpenPostgres(context.Background(), env.pgURL, limits)
		Expect(err).NotTo(HaveOccurred())
		return s
	})
})

var _ = Describe("RedisStore", func() {
	storeContract(func(limits datastore.Limits) datastore.Store {
		s, err := datastore.OpenRedis(context.Background(), env.redisAddr, "it-"+ulid.Make().String(), limits)
		Expect(err).NotTo(HaveOccurred())
		return s
	})
})
