package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingQueue(t *testing.T) {
	q := newPendingQueue()
	assert.Nil(t, q.take("a"))

	q.push("a", candidate(1))
	q.push("a", candidate(2))
	q.push("b", candidate(3))
	assert.Len(t, q.snapshot()["a"], 2)

	snap := q.snapshot()
	snap["a"][0] = candidate(9)
	assert.Equal(t, candidate(1), q.take("a")[0], "snapshot must not alias")

	assert.Nil(t, q.take("a"))

	q.clear("b")
	assert.NotContains(t, q.snapshot(), "b")

	q.push("c", candidate(4))
	q.clearAll()
	assert.Empty(t, q.snapshot())
}
