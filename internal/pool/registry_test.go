package pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidelock/xapool/pkg/txn"
)

func TestRegistryBindAndLookup(t *testing.T) {
	r := NewRegistry(txn.NewFakeManager())
	defer r.ShutdownAll()

	driver := newFakeDriver()
	p, err := r.Bind("orders", driver, testOptions())
	require.NoError(t, err)
	require.NotNil(t, p)

	got, ok := r.Lookup("orders")
	require.True(t, ok)
	assert.Same(t, p, got)
}

func TestRegistryBindDuplicateNameFails(t *testing.T) {
	r := NewRegistry(txn.NewFakeManager())
	defer r.ShutdownAll()

	driver := newFakeDriver()
	_, err := r.Bind("orders", driver, testOptions())
	require.NoError(t, err)

	_, err = r.Bind("orders", driver, testOptions())
	assert.Error(t, err)
}

func TestRegistryBindsMultipleDriversUnderOneTxManager(t *testing.T) {
	txMgr := txn.NewFakeManager()
	r := NewRegistry(txMgr)
	defer r.ShutdownAll()

	d1 := newFakeDriver()
	d2 := newFakeDriver()
	_, err := r.Bind("orders", d1, testOptions())
	require.NoError(t, err)
	_, err = r.Bind("inventory", d2, testOptions())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"orders", "inventory"}, r.Names())
}

func TestRegistryUnbindShutsDownPool(t *testing.T) {
	r := NewRegistry(txn.NewFakeManager())
	defer r.ShutdownAll()

	driver := newFakeDriver()
	_, err := r.Bind("orders", driver, testOptions())
	require.NoError(t, err)

	r.Unbind("orders")
	_, ok := r.Lookup("orders")
	assert.False(t, ok)
}

func TestRegistryLookupOrConstruct(t *testing.T) {
	r := NewRegistry(txn.NewFakeManager())
	defer r.ShutdownAll()

	driver := newFakeDriver()
	p1, err := r.LookupOrConstruct("orders", driver, testOptions())
	require.NoError(t, err)

	p2, err := r.LookupOrConstruct("orders", driver, testOptions())
	require.NoError(t, err)
	assert.Same(t, p1, p2, "a second call for the same name returns the existing pool")
}
