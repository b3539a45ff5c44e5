//go:build !tapsync_debug

package engine

const strictInvariants = false
