//go:build !linux

package fiber

func gettid() int {
	return -1
}
