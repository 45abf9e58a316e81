package render

import (
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// NewPose builds a pose from a position in meters and roll, pitch, yaw in
// radians (fixed axes X, Y, Z).
func NewPose(x, y, z, roll, pitch, yaw float64) spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: x, Y: y, Z: z},
		&spatialmath.EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw},
	)
}

// ToLocal expresses a point given in the parent frame in the frame of pose.
func ToLocal(pose spatialmath.Pose, point r3.Vector) r3.Vector {
	return spatialmath.Compose(spatialmath.PoseInverse(pose), spatialmath.NewPoseFromPoint(point)).Point()
}
