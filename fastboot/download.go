// Fastboot download/flash command handlers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package fastboot

import (
	"fmt"
	"strconv"

	"github.com/usbarmory/tamago/lmb"
	"github.com/usbarmory/tamago/soc/nvidia/tegra/usb"
)

const downloadAlign = 0x100000

func (s *Server) cmdDownload(args string) string {
	if len(args) != 8 {
		return "FAILBad command"
	}

	v, err := strconv.ParseUint(args, 16, 32)

	if err != nil {
		return "FAILBad command"
	}

	size := uint32(v)

	if s.dl != nil {
		s.LMB.Free(uint64(s.dl.addr), uint64(s.dl.size), downloadAlign)
		s.dl = nil
	}

	addr := s.LMB.AllocBase(uint64(size), downloadAlign, lmb.Alloc32Bit, lmb.TypeBoot, lmb.NewTag("FBDL"))

	if addr == 0 {
		return "FAILOut of memory"
	}

	s.dl = &downloadState{addr: uint32(addr), size: size, remaining: size}

	// stop the pipelined command read; it resumes once the payload
	// has been fully received.
	s.UDC.Cancel(&s.outReq)

	msg := fmt.Sprintf("DATA%08x", size)

	s.inReq.Buffer = nil
	n := copy(s.inReq.SmallBuffer[:], msg)
	s.inReq.BufferLength = uint32(n)
	s.inReq.Complete = func(req *usb.Request) {
		if req.Error {
			return
		}

		s.downloadChunk()
	}

	s.UDC.Submit(&s.inReq)

	return ""
}

func (s *Server) downloadChunk() {
	dl := s.dl

	if dl == nil || dl.remaining == 0 {
		s.finishDownload()
		return
	}

	chunk := dl.remaining
	if chunk > usb.MaxBufferLength {
		chunk = usb.MaxBufferLength
	}

	offset := dl.size - dl.remaining

	s.outReq.PhysAddr = dl.addr + offset
	s.outReq.BufferLength = chunk
	s.outReq.Complete = s.downloadChunkComplete

	s.UDC.Submit(&s.outReq)
}

func (s *Server) downloadChunkComplete(req *usb.Request) {
	if req.Error {
		s.inCommand = false
		return
	}

	s.dl.remaining -= req.IODone

	if s.dl.remaining == 0 {
		s.finishDownload()
	} else {
		s.downloadChunk()
	}
}

func (s *Server) finishDownload() {
	s.outReq.PhysAddr = 0
	s.dl.loaded = true

	// command-mode reads resume now that the payload has landed.
	s.rxCommand()

	s.endCommandWithInfo("Loaded at 0x%x-0x%x", s.dl.addr, s.dl.addr+s.dl.size)
}

func (s *Server) cmdFlashRun() string {
	if s.dl == nil || !s.dl.loaded {
		return "FAILNothing downloaded"
	}

	s.inReq.Buffer = nil
	n := copy(s.inReq.SmallBuffer[:], "OKAY")
	s.inReq.SmallBuffer[n] = 0
	s.inReq.BufferLength = uint32(n + 1)
	s.inReq.Complete = func(req *usb.Request) {
		s.inCommand = false

		if req.Error {
			return
		}

		s.jump()
	}

	s.UDC.Submit(&s.inReq)

	return ""
}

func (s *Server) jump() {
	dl := s.dl

	addr := dl.addr
	var magic [8]byte

	for i := range magic {
		magic[i] = byte(readMem(uint64(dl.addr+uint32(i)), 1))
	}

	if string(magic[:]) == androidBootMagic {
		addr += uint32(readMem(uint64(dl.addr+androidPageSizeOffset), 4))
	}

	if s.Jump != nil {
		s.Jump(addr, s.FDT)
	}
}
