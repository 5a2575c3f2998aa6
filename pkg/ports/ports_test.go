package ports

import (
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jrepp/embedded-redis/pkg/rediserr"
)

func TestPredefinedProvider(t *testing.T) {
	p := NewPredefinedProvider(5000, 5001, 5002)

	for _, want := range []int{5000, 5001, 5002} {
		got, err := p.Next()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := p.Next()
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodePortsExhausted))
	assert.Equal(t, 0, p.Remaining())
}

func TestPredefinedProviderDropsDuplicates(t *testing.T) {
	p := NewPredefinedProvider(7000, 7001, 7000, 7002, 7001)

	got, err := Take(p, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{7000, 7001, 7002}, got)

	_, err = p.Next()
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodePortsExhausted))
}

func TestPredefinedProviderConcurrent(t *testing.T) {
	list := make([]int, 100)
	for i := range list {
		list[i] = 10000 + i
	}
	p := NewPredefinedProvider(list...)

	var (
		mu   sync.Mutex
		seen = map[int]bool{}
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				port, err := p.Next()
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[port], "port %d handed out twice", port)
				seen[port] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 100)
	_, err := p.Next()
	assert.Error(t, err)
}

func TestSequenceProvider(t *testing.T) {
	p := NewSequenceProvider(10)

	highest := 0
	for i := 0; i < 101; i++ {
		port, err := p.Next()
		require.NoError(t, err)
		if port > highest {
			highest = port
		}
	}
	assert.Equal(t, 110, highest)
}

func TestSequenceProviderSetCurrent(t *testing.T) {
	p := NewSequenceProvider(6379)

	first, _ := p.Next()
	assert.Equal(t, 6379, first)

	p.SetCurrent(7000)
	next, _ := p.Next()
	assert.Equal(t, 7000, next)
}

func TestSequenceProviderConcurrent(t *testing.T) {
	p := NewSequenceProvider(20000)

	var wg sync.WaitGroup
	results := make(chan int, 200)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				port, _ := p.Next()
				results <- port
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int]bool{}
	for port := range results {
		assert.False(t, seen[port])
		seen[port] = true
	}
	assert.Len(t, seen, 200)
}

func TestEphemeralProvider(t *testing.T) {
	p := NewEphemeralProvider()

	port, err := p.Next()
	require.NoError(t, err)
	assert.Greater(t, port, 0)

	// The test listener is closed, so the port can be bound again.
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	require.NoError(t, l.Close())
}

func TestEphemeralProviderBadHost(t *testing.T) {
	p := &EphemeralProvider{Host: "256.0.0.1"}

	_, err := p.Next()
	require.Error(t, err)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodeBuild))
}

func TestTake(t *testing.T) {
	got, err := Take(NewSequenceProvider(6379), 3)
	require.NoError(t, err)
	assert.Equal(t, []int{6379, 6380, 6381}, got)

	_, err = Take(NewPredefinedProvider(1), 2)
	assert.True(t, rediserr.IsCode(err, rediserr.ErrorCodePortsExhausted))
}
