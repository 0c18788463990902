// Package vfs provides the slice of the virtual file system that the process
// core consumes: a per-process file descriptor table and the type of the
// object behind each descriptor.
//
// # Usage
//
// Each process owns a *FileDescriptorTable in its basic info. Descriptors are
// allocated lowest-first, like on Unix:
//
//	tbl := vfs.NewFileDescriptorTable()
//	fd, err := tbl.Insert(vfs.NewFile("socket:[3]", vfs.FileTypeSocket, sock))
//	if err != nil {
//		return err
//	}
//	f, _ := tbl.Get(fd)
//	if f.Type == vfs.FileTypeSocket {
//		// f.Inode is the socket
//	}
package vfs
