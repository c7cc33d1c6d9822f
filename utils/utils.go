package utils

import (
	"os"

	"github.com/dustin/go-humanize"
)

func FormatBytes(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}

func CopyFile(src, dst string) error {
	srContent, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	err = os.WriteFile(dst, srContent, 0644)
	if err != nil {
		return err
	}

	return nil
}
