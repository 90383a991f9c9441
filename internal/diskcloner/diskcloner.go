// Package diskcloner reflink-copies a base rootfs image into a
// per-sandbox path, falling back to a plain copy where the host
// filesystem doesn't support copy-on-write reflinks.
package diskcloner

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/opensandbox/sandchest/internal/sandchesterr"
)

// RootfsFilename is the fixed name every cloned rootfs takes inside a
// sandbox's data directory.
const RootfsFilename = "rootfs.ext4"

// CloneDisk creates destDir/rootfs.ext4 as a reflink copy-on-write
// clone of src where supported, otherwise a full copy.
func CloneDisk(src, destDir string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		if os.IsNotExist(err) {
			return "", sandchesterr.NotFoundf("diskcloner: source image %q not found", src)
		}
		return "", sandchesterr.WrapInternal(err, "diskcloner: stat source %q", src)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", sandchesterr.WrapInternal(err, "diskcloner: mkdir %q", destDir)
	}

	dest := filepath.Join(destDir, RootfsFilename)
	cmd := exec.Command("cp", "--reflink=auto", src, dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", sandchesterr.WrapInternal(err, "diskcloner: copy rootfs (%s)", strings.TrimSpace(string(out)))
	}
	return dest, nil
}

// CleanupDisk removes a sandbox's data directory. A missing directory
// is success.
func CleanupDisk(destDir string) error {
	if err := os.RemoveAll(destDir); err != nil {
		return sandchesterr.WrapInternal(err, "diskcloner: cleanup %q", destDir)
	}
	return nil
}

// ResolveBaseImage finds the base rootfs image file for a kernel/rootfs
// reference under imagesDir.
func ResolveBaseImage(imagesDir, ref string) (string, error) {
	if ref == "" {
		ref = "default"
	}
	candidates := []string{
		filepath.Join(imagesDir, ref+".ext4"),
		filepath.Join(imagesDir, ref),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", sandchesterr.NotFoundf("diskcloner: base image not found for %q in %s", ref, imagesDir)
}
