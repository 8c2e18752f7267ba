package account

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		id      ID
		wantErr bool
	}{
		{"simple", "alice", false},
		{"with dots", "alice.testnet", false},
		{"with separators", "my-shop_1.factory.near", false},
		{"two chars", "ab", false},
		{"single char", "a", true},
		{"uppercase", "Alice", true},
		{"leading dot", ".alice", true},
		{"trailing dash", "alice-", true},
		{"double separator", "al--ice", true},
		{"double dot", "alice..near", true},
		{"too long", ID(strings.Repeat("a", MaxLength+1)), true},
		{"max length", ID(strings.Repeat("a", MaxLength)), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.id.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSub(t *testing.T) {
	t.Run("joins prefix and parent", func(t *testing.T) {
		id, err := Sub("shop", "factory.near")
		require.NoError(t, err)
		assert.Equal(t, ID("shop.factory.near"), id)
		assert.True(t, id.IsDirectSubOf("factory.near"))
	})

	t.Run("rejects dotted prefix", func(t *testing.T) {
		_, err := Sub("a.b", "factory.near")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid prefix")
	})

	t.Run("rejects empty prefix", func(t *testing.T) {
		_, err := Sub("", "factory.near")
		assert.Error(t, err)
	})

	t.Run("rejects result over max length", func(t *testing.T) {
		_, err := Sub(strings.Repeat("x", 60), "factory.near")
		assert.Error(t, err)
	})

	t.Run("rejects invalid parent", func(t *testing.T) {
		_, err := Sub("shop", "Factory")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid parent account")
	})
}

func TestIsDirectSubOf(t *testing.T) {
	assert.True(t, ID("shop.factory").IsDirectSubOf("factory"))
	assert.False(t, ID("a.shop.factory").IsDirectSubOf("factory"))
	assert.False(t, ID("factory").IsDirectSubOf("factory"))
	assert.False(t, ID("shopfactory").IsDirectSubOf("factory"))
}

func TestHash(t *testing.T) {
	h := ID("alice").Hash()
	assert.Len(t, h, 64)
	assert.Equal(t, h, ID("alice").Hash())
	assert.NotEqual(t, h, ID("bob").Hash())
}

var prefixGen = rapid.StringMatching(`[a-z0-9]{1,8}([-_][a-z0-9]{1,8}){0,2}`)

func TestSub_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prefix := prefixGen.Draw(t, "prefix")

		first, err := Sub(prefix, "factory.near")
		if err != nil {
			t.Fatalf("valid prefix %q rejected: %v", prefix, err)
		}
		second, err := Sub(prefix, "factory.near")
		if err != nil {
			t.Fatalf("second derivation failed: %v", err)
		}
		if first != second {
			t.Fatalf("derivation not deterministic: %q vs %q", first, second)
		}
	})
}

func TestSub_DistinctPrefixesDoNotCollide(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := prefixGen.Draw(t, "a")
		b := prefixGen.Draw(t, "b")
		if a == b {
			t.Skip("identical prefixes")
		}

		idA, errA := Sub(a, "factory.near")
		idB, errB := Sub(b, "factory.near")
		if errA != nil || errB != nil {
			t.Fatalf("unexpected error: %v / %v", errA, errB)
		}
		if idA == idB {
			t.Fatalf("prefixes %q and %q collide on %q", a, b, idA)
		}
	})
}
