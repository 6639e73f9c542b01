package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	t.Setenv("TEST_STRING", "value")
	assert.Equal(t, "value", String("TEST_STRING", "fallback"))
	assert.Equal(t, "fallback", String("TEST_STRING_MISSING", "fallback"))
}

func TestInt(t *testing.T) {
	t.Setenv("TEST_INT", "7")
	assert.Equal(t, 7, Int("TEST_INT", 3))

	t.Setenv("TEST_INT_BAD", "nope")
	assert.Equal(t, 3, Int("TEST_INT_BAD", 3))

	t.Setenv("TEST_INT_NEG", "-1")
	assert.Equal(t, 3, Int("TEST_INT_NEG", 3))
}

func TestDurationSeconds(t *testing.T) {
	t.Setenv("TEST_DELAY", "5")
	assert.Equal(t, 5*time.Second, DurationSeconds("TEST_DELAY", time.Second))
	assert.Equal(t, 2*time.Second, DurationSeconds("TEST_DELAY_MISSING", 2*time.Second))
}

func TestCSV(t *testing.T) {
	t.Setenv("TEST_CSV", "a, b,,a ,c")
	assert.Equal(t, []string{"a", "b", "c"}, CSV("TEST_CSV", nil))
	assert.Equal(t, []string{"x"}, CSV("TEST_CSV_MISSING", []string{"x"}))
}
