package sftp

import (
	"fmt"
	"os"
)

const (
	dirLongPerms  = "drwxrwxr-x"
	fileLongPerms = "-rw-r--r--"
)

// longName renders the ls -l style line the teacher's READDIR responses
// carry in their longname field: permission word, link count, owner, group,
// size right-aligned to width 10, "Mon DD HH:MM", and the entry name.
func longName(info os.FileInfo) string {
	perms := fileLongPerms
	if info.IsDir() {
		perms = dirLongPerms
	}
	mt := info.ModTime()
	return fmt.Sprintf("%s   1 owner    group    %10d %s %2d %02d:%02d %s",
		perms, info.Size(), mt.Month().String()[:3], mt.Day(), mt.Hour(), mt.Minute(), info.Name())
}
