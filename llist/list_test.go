package llist_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"tlsfrt/heap"
	"tlsfrt/llist"
)

func newAlloc(t *testing.T) *heap.Facade {
	t.Helper()
	h, err := heap.New()
	require.NoError(t, err)
	return h
}

func TestInsHeadTailOrder(t *testing.T) {
	l := llist.New(newAlloc(t), 4)

	a := l.InsTail()
	b := l.InsTail()
	c := l.InsHead()

	require.Equal(t, 3, l.GetLen())
	require.Same(t, c, l.GetHead())
	require.Same(t, b, l.GetTail())
	require.Same(t, a, l.GetNext(c))
	require.Same(t, b, l.GetNext(a))
	require.Nil(t, l.GetNext(b))
	require.Nil(t, l.GetPrev(c))
}

func TestInsPrev(t *testing.T) {
	l := llist.New(newAlloc(t), 4)
	anchor := l.InsHead()
	mid := l.InsPrev(anchor)

	require.Same(t, mid, l.GetHead())
	require.Same(t, anchor, l.GetNext(mid))
}

func TestRemove(t *testing.T) {
	l := llist.New(newAlloc(t), 4)
	a := l.InsTail()
	b := l.InsTail()
	c := l.InsTail()

	l.Remove(b)

	require.Equal(t, 2, l.GetLen())
	require.Same(t, c, l.GetNext(a))
	require.Same(t, a, l.GetPrev(c))
}

func TestClear(t *testing.T) {
	l := llist.New(newAlloc(t), 4)
	l.InsTail()
	l.InsTail()
	l.InsTail()

	l.Clear()

	require.True(t, l.IsEmpty())
	require.Nil(t, l.GetHead())
	require.Nil(t, l.GetTail())
}

func TestChgList(t *testing.T) {
	src := llist.New(newAlloc(t), 4)
	dst := llist.New(newAlloc(t), 4)

	n := src.InsTail()
	src.ChgList(dst, n, true)

	require.True(t, src.IsEmpty())
	require.Equal(t, 1, dst.GetLen())
	require.Same(t, n, dst.GetHead())
}

func TestMoveBefore(t *testing.T) {
	l := llist.New(newAlloc(t), 4)
	a := l.InsTail()
	b := l.InsTail()
	c := l.InsTail()

	l.MoveBefore(c, a)

	require.Same(t, c, l.GetHead())
	require.Same(t, a, l.GetNext(c))
	require.Same(t, b, l.GetNext(a))
}

func TestNodeDataIsIndependentPerNode(t *testing.T) {
	l := llist.New(newAlloc(t), 4)
	a := l.InsTail()
	b := l.InsTail()

	a.Data[0] = 0xAB
	b.Data[0] = 0xCD

	require.EqualValues(t, 0xAB, a.Data[0])
	require.EqualValues(t, 0xCD, b.Data[0])
}
