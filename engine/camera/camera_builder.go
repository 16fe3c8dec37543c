package camera

import "github.com/kiln-gfx/kiln/common"

// CameraBuilderOption is a functional option for configuring a camera.
// Use the With* functions to create options.
type CameraBuilderOption func(c *cameraImpl)

// WithPosition sets the camera's world position.
//
// Parameters:
//   - position: the world position
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithPosition(position common.Vector3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.position = position
	}
}

// WithTarget sets the point the camera looks at.
//
// Parameters:
//   - target: the look-at point
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithTarget(target common.Vector3) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.target = target
	}
}

// WithFov sets the field of view in radians.
//
// Parameters:
//   - fov: field of view in radians
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithFov(fov float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.fov = fov
	}
}

// WithAspect sets the aspect ratio (width / height).
//
// Parameters:
//   - aspect: the aspect ratio
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithAspect(aspect float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.aspect = aspect
	}
}

// WithClipPlanes sets the near and far clipping plane distances.
//
// Parameters:
//   - near: near plane distance
//   - far: far plane distance
//
// Returns:
//   - CameraBuilderOption: option function to apply
func WithClipPlanes(near, far float32) CameraBuilderOption {
	return func(c *cameraImpl) {
		c.near = near
		c.far = far
	}
}
