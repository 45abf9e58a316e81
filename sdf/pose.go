package sdf

import (
	"fmt"
	"strconv"
	"strings"
)

// Pose is position in meters and orientation as roll, pitch, yaw in radians.
type Pose struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
}

// UnmarshalText parses "x y z roll pitch yaw". An empty element is the zero pose.
func (p *Pose) UnmarshalText(text []byte) error {
	fields := strings.Fields(string(text))
	if len(fields) == 0 {
		*p = Pose{}
		return nil
	}
	if len(fields) != 6 {
		return fmt.Errorf("pose needs 6 values, got %d", len(fields))
	}
	var vals [6]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return fmt.Errorf("pose value %d: %w", i, err)
		}
		vals[i] = v
	}
	*p = Pose{X: vals[0], Y: vals[1], Z: vals[2], Roll: vals[3], Pitch: vals[4], Yaw: vals[5]}
	return nil
}

func (p Pose) String() string {
	return fmt.Sprintf("%g %g %g %g %g %g", p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}
