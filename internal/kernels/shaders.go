package kernels

import _ "embed"

var (
	//go:embed shaders/params.wgsl
	paramsWGSL string

	//go:embed shaders/grayscale.wgsl
	grayscaleWGSL string

	//go:embed shaders/blur.wgsl
	blurWGSL string

	//go:embed shaders/corners.wgsl
	cornersWGSL string

	//go:embed shaders/fast9.wgsl
	fast9WGSL string

	//go:embed shaders/accept_all.wgsl
	acceptAllWGSL string

	//go:embed shaders/descriptors.wgsl
	descriptorsWGSL string

	//go:embed shaders/match.wgsl
	matchWGSL string
)

// source prefixes a stage body with the shared params declaration.
func source(parts ...string) string {
	s := paramsWGSL
	for _, p := range parts {
		s += "\n" + p
	}
	return s
}
