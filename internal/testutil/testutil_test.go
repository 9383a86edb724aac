package testutil

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedIDGenerator(t *testing.T) {
	assert.Equal(t, "test-compile", NewFixedIDGenerator("").Generate())

	g := NewFixedIDGenerator("q")
	assert.Equal(t, "q", g.Generate())
	assert.Equal(t, "q", g.Generate())
}

func TestSequentialIDGenerator(t *testing.T) {
	g := NewSequentialIDGenerator("c")
	assert.Equal(t, "c-1", g.Generate())
	assert.Equal(t, "c-2", g.Generate())

	g.Reset()
	assert.Equal(t, "c-1", g.Generate())
}

func TestSequentialIDGenerator_Concurrent(t *testing.T) {
	g := NewSequentialIDGenerator("c")
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, dup := seen.LoadOrStore(g.Generate(), true)
			assert.False(t, dup)
		}()
	}
	wg.Wait()
}

func TestFixtureModel(t *testing.T) {
	m, err := NewModel()
	require.NoError(t, err)

	animal := m.FindEntityType(typeOf[Animal]())
	require.NotNil(t, animal)
	assert.True(t, animal.SharesTable())
	assert.Len(t, animal.ConcreteTypes(), 3)

	dog := m.FindEntityType(typeOf[Dog]())
	require.NotNil(t, dog)
	assert.Equal(t, "Animals", dog.Table)
	assert.Equal(t, "dog", dog.DiscriminatorValue)
	require.NotNil(t, dog.Discriminator)
	assert.Equal(t, "Kind", dog.Discriminator.Column)

	order := m.FindEntityType(typeOf[Order]())
	require.NotNil(t, order)
	nav := order.FindNavigation("Customer")
	require.NotNil(t, nav)
	assert.Equal(t, "Customer", nav.Target().Name)
}

func typeOf[T any]() reflect.Type { return reflect.TypeOf((*T)(nil)).Elem() }
