//go:build !gocv

package normalize

func newDefaultOps() imageOps { return pureOps{} }
