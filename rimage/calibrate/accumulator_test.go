package calibrate

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func fakeCorners(n int, offset float64) []r2.Point {
	pts := make([]r2.Point, n)
	for i := range pts {
		pts[i] = r2.Point{X: float64(i) + offset, Y: offset}
	}
	return pts
}

func TestAccumulator(t *testing.T) {
	board := testBoard(t)
	acc, err := NewAccumulator(board, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, acc.Target(), test.ShouldEqual, 3)
	test.That(t, acc.Count(), test.ShouldEqual, 0)
	test.That(t, acc.TargetReached(), test.ShouldBeFalse)

	for k := 1; k <= 2; k++ {
		test.That(t, acc.Accept(fakeCorners(54, float64(k))), test.ShouldBeTrue)
		test.That(t, acc.Count(), test.ShouldEqual, k)
	}

	// mismatched and empty inputs never change the count
	test.That(t, acc.Accept(fakeCorners(53, 0)), test.ShouldBeFalse)
	test.That(t, acc.Accept(fakeCorners(55, 0)), test.ShouldBeFalse)
	test.That(t, acc.Accept(nil), test.ShouldBeFalse)
	test.That(t, acc.Count(), test.ShouldEqual, 2)
	test.That(t, acc.TargetReached(), test.ShouldBeFalse)

	input := fakeCorners(54, 3)
	test.That(t, acc.Accept(input), test.ShouldBeTrue)
	test.That(t, acc.TargetReached(), test.ShouldBeTrue)

	// observations own their points
	input[0] = r2.Point{X: -100}
	set := acc.Observations()
	test.That(t, set.Len(), test.ShouldEqual, 3)
	test.That(t, set.PointCount(), test.ShouldEqual, 3*54)
	test.That(t, set.Geometry, test.ShouldResemble, board)
	test.That(t, set.Observations[2].ImagePoints[0], test.ShouldResemble, r2.Point{X: 3, Y: 3})
	test.That(t, set.Observations[0].WorldPoints, test.ShouldResemble, board.WorldPoints())

	// changing a snapshot leaves the stored views alone
	set.Observations[0].WorldPoints[5] = r3.Vector{X: 99}
	set.Observations[1].ImagePoints[0] = r2.Point{X: -7}
	fresh := acc.Observations()
	for _, o := range fresh.Observations {
		test.That(t, o.WorldPoints, test.ShouldResemble, board.WorldPoints())
	}
	test.That(t, fresh.Observations[1].ImagePoints[0], test.ShouldResemble, r2.Point{X: 2, Y: 2})

	// a snapshot is not affected by later accepts
	test.That(t, acc.Accept(fakeCorners(54, 4)), test.ShouldBeTrue)
	test.That(t, set.Len(), test.ShouldEqual, 3)
	test.That(t, acc.Count(), test.ShouldEqual, 4)
	test.That(t, acc.TargetReached(), test.ShouldBeTrue)

	acc.Reset()
	test.That(t, acc.Count(), test.ShouldEqual, 0)
	test.That(t, acc.TargetReached(), test.ShouldBeFalse)
}

func TestAccumulatorDefaults(t *testing.T) {
	acc, err := NewAccumulator(testBoard(t), 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, acc.Target(), test.ShouldEqual, DefaultTargetSampleCount)

	_, err = NewAccumulator(BoardGeometry{Width: 1, Height: 1}, 5)
	test.That(t, err, test.ShouldNotBeNil)
}
