//go:build !openvr

package openvr

// Init always fails without the openvr build tag.
func Init() (Runtime, error) {
	return nil, ErrRuntimeUnavailable
}
