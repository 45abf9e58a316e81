package render

import (
	"errors"
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"

	"triggeredcamera/msgs"
)

func newTestScene(t *testing.T, name string) *Scene {
	t.Helper()
	engine, err := LoadEngine(SoftwareEngine)
	test.That(t, err, test.ShouldBeNil)
	scene, err := engine.CreateScene(name)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { _ = engine.DestroyScene(scene) })
	return scene
}

func TestLoadEngine(t *testing.T) {
	t.Run("software engine is built in", func(t *testing.T) {
		test.That(t, Available(SoftwareEngine), test.ShouldBeTrue)
		e1, err := LoadEngine(SoftwareEngine)
		test.That(t, err, test.ShouldBeNil)
		e2, err := LoadEngine(SoftwareEngine)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, e1, test.ShouldEqual, e2)
		test.That(t, e1.Name(), test.ShouldEqual, SoftwareEngine)
	})

	for _, name := range []string{"ogre", "ogre2", "optix"} {
		t.Run(name+" is unavailable", func(t *testing.T) {
			test.That(t, Available(name), test.ShouldBeFalse)
			_, err := LoadEngine(name)
			test.That(t, errors.Is(err, ErrEngineUnavailable), test.ShouldBeTrue)
		})
	}

	t.Run("unload destroys scenes", func(t *testing.T) {
		e, err := LoadEngine(SoftwareEngine)
		test.That(t, err, test.ShouldBeNil)
		scene, err := e.CreateScene("unload")
		test.That(t, err, test.ShouldBeNil)
		cam, err := scene.CreateCamera("cam")
		test.That(t, err, test.ShouldBeNil)

		test.That(t, UnloadEngine(SoftwareEngine), test.ShouldBeNil)
		test.That(t, UnloadEngine(SoftwareEngine), test.ShouldBeNil)
		_, err = cam.Capture()
		test.That(t, errors.Is(err, ErrCameraDestroyed), test.ShouldBeTrue)

		fresh, err := LoadEngine(SoftwareEngine)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, fresh != e, test.ShouldBeTrue)
		test.That(t, fresh.SceneByName("unload"), test.ShouldBeNil)
	})
}

func TestScene(t *testing.T) {
	scene := newTestScene(t, "scene-objects")

	t.Run("camera ids count down and are unique", func(t *testing.T) {
		a, err := scene.CreateCamera("a")
		test.That(t, err, test.ShouldBeNil)
		b, err := scene.CreateCamera("b")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, a.ID(), test.ShouldEqual, ObjectID(math.MaxUint32))
		test.That(t, b.ID(), test.ShouldEqual, ObjectID(math.MaxUint32-1))
		test.That(t, scene.SensorByID(a.ID()), test.ShouldEqual, a)
		test.That(t, scene.SensorByName("b"), test.ShouldEqual, b)
		test.That(t, scene.SensorCount(), test.ShouldEqual, 2)
	})

	t.Run("camera names are unique", func(t *testing.T) {
		_, err := scene.CreateCamera("a")
		test.That(t, errors.Is(err, ErrNameTaken), test.ShouldBeTrue)
	})

	t.Run("destroyed cameras cannot be found or capture", func(t *testing.T) {
		c := scene.SensorByName("a")
		scene.DestroySensor(c)
		scene.DestroySensor(c)
		test.That(t, scene.SensorByID(c.ID()), test.ShouldBeNil)
		test.That(t, scene.SensorByName("a"), test.ShouldBeNil)
		_, err := c.Capture()
		test.That(t, errors.Is(err, ErrCameraDestroyed), test.ShouldBeTrue)
	})

	t.Run("visual names are unique", func(t *testing.T) {
		test.That(t, scene.AddVisual(Visual{Name: "v", Size: 1, Color: color.White}), test.ShouldBeNil)
		err := scene.AddVisual(Visual{Name: "v", Size: 1, Color: color.White})
		test.That(t, errors.Is(err, ErrNameTaken), test.ShouldBeTrue)
		test.That(t, scene.Visuals(), test.ShouldHaveLength, 1)
	})

	t.Run("scene names are unique per engine", func(t *testing.T) {
		_, err := scene.Engine().CreateScene("scene-objects")
		test.That(t, errors.Is(err, ErrSceneExists), test.ShouldBeTrue)
	})
}

func pixel(img *Image, x, y int) []byte {
	bpp := img.Format.BytesPerPixel()
	i := (y*int(img.Width) + x) * bpp
	return img.Data[i : i+bpp]
}

func TestCapture(t *testing.T) {
	scene := newTestScene(t, "capture")
	scene.SetBackground(color.RGBA{R: 0, G: 0, B: 255, A: 255})
	test.That(t, scene.AddVisual(Visual{
		Name:     "ball",
		Shape:    Sphere,
		Position: r3.Vector{X: 2},
		Size:     1,
		Color:    color.RGBA{R: 255, A: 255},
	}), test.ShouldBeNil)
	test.That(t, scene.AddVisual(Visual{
		Name:     "behind",
		Shape:    Box,
		Position: r3.Vector{X: -2},
		Size:     10,
		Color:    color.RGBA{G: 255, A: 255},
	}), test.ShouldBeNil)

	cam, err := scene.CreateCamera("cam")
	test.That(t, err, test.ShouldBeNil)
	cam.SetImageSize(64, 48)

	t.Run("rgb", func(t *testing.T) {
		img, err := cam.Capture()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Width, test.ShouldEqual, uint32(64))
		test.That(t, img.Height, test.ShouldEqual, uint32(48))
		test.That(t, img.Step(), test.ShouldEqual, uint32(64*3))
		test.That(t, img.Data, test.ShouldHaveLength, 64*48*3)

		test.That(t, pixel(img, 32, 24), test.ShouldResemble, []byte{255, 0, 0})
		test.That(t, pixel(img, 0, 0), test.ShouldResemble, []byte{0, 0, 255})
	})

	t.Run("luminance", func(t *testing.T) {
		cam.SetImageFormat(msgs.L8)
		defer cam.SetImageFormat(msgs.R8G8B8)
		img, err := cam.Capture()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, img.Data, test.ShouldHaveLength, 64*48)
		test.That(t, pixel(img, 32, 24), test.ShouldResemble, []byte{76})
	})

	t.Run("turning away hides the ball", func(t *testing.T) {
		cam.SetPose(NewPose(0, 0, 0, 0, 0, math.Pi))
		defer cam.SetPose(spatialmath.NewZeroPose())
		img, err := cam.Capture()
		test.That(t, err, test.ShouldBeNil)
		// The box behind the origin now fills the view.
		test.That(t, pixel(img, 32, 24), test.ShouldResemble, []byte{0, 255, 0})
	})

	t.Run("clip planes", func(t *testing.T) {
		cam.SetClip(0.1, 1)
		defer cam.SetClip(0.1, 100)
		img, err := cam.Capture()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pixel(img, 32, 24), test.ShouldResemble, []byte{0, 0, 255})
	})

	t.Run("empty image size", func(t *testing.T) {
		cam.SetImageSize(0, 10)
		defer cam.SetImageSize(64, 48)
		_, err := cam.Capture()
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestPoseCompose(t *testing.T) {
	parent := NewPose(1, 0, 0, 0, 0, math.Pi/2)
	child := NewPose(1, 0, 0, 0, 0, 0)
	world := spatialmath.Compose(parent, child)
	test.That(t, world.Point().X, test.ShouldAlmostEqual, 1)
	test.That(t, world.Point().Y, test.ShouldAlmostEqual, 1)

	local := ToLocal(world, r3.Vector{X: 1, Y: 2})
	test.That(t, local.X, test.ShouldAlmostEqual, 1)
	test.That(t, local.Y, test.ShouldAlmostEqual, 0)

	t.Run("roll pitch yaw are fixed axes X Y Z", func(t *testing.T) {
		// Pitch first turns +X down to -Z, then yaw about Z leaves it there.
		p := NewPose(0, 0, 0, 0, math.Pi/2, math.Pi/2)
		tip := spatialmath.Compose(p, spatialmath.NewPoseFromPoint(r3.Vector{X: 1})).Point()
		test.That(t, tip.X, test.ShouldAlmostEqual, 0)
		test.That(t, tip.Y, test.ShouldAlmostEqual, 0)
		test.That(t, tip.Z, test.ShouldAlmostEqual, -1)
	})
}
