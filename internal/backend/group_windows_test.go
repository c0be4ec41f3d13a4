//go:build windows

package backend

func processGroupGone(int) bool {
	return true
}
