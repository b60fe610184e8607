package utils

import (
	"testing"

	"go.viam.com/test"
)

func TestAngleDiffDeg(t *testing.T) {
	test.That(t, AngleDiffDeg(0, 90), test.ShouldEqual, 90)
	test.That(t, AngleDiffDeg(350, 10), test.ShouldEqual, 20)
	test.That(t, AngleDiffDeg(10, 350), test.ShouldEqual, 20)
	test.That(t, AngleDiffDeg(180, 0), test.ShouldEqual, 180)
}

func TestWrapDeg180(t *testing.T) {
	test.That(t, WrapDeg180(0), test.ShouldEqual, 0)
	test.That(t, WrapDeg180(190), test.ShouldEqual, -170)
	test.That(t, WrapDeg180(-190), test.ShouldEqual, 170)
	test.That(t, WrapDeg180(540), test.ShouldEqual, -180)
}

func TestModAngDeg(t *testing.T) {
	test.That(t, ModAngDeg(-90), test.ShouldEqual, 270)
	test.That(t, ModAngDeg(720), test.ShouldEqual, 0)
	test.That(t, ModAngDeg(45), test.ShouldEqual, 45)
}

func TestClamp(t *testing.T) {
	test.That(t, Clamp(2, -1, 1), test.ShouldEqual, 1)
	test.That(t, Clamp(-2, -1, 1), test.ShouldEqual, -1)
	test.That(t, Clamp(0.5, -1, 1), test.ShouldEqual, 0.5)
}
