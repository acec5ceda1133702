package compositor

import (
	"golang.org/x/sys/unix"

	"github.com/bnema/wlrt/server"
	"github.com/bnema/wlrt/wire"
)

// Pixel formats advertised by wl_shm.
const (
	FormatARGB8888 uint32 = 0
	FormatXRGB8888 uint32 = 1
)

// wl_shm error codes.
const (
	ShmErrorInvalidFormat uint32 = 0
	ShmErrorInvalidStride uint32 = 1
	ShmErrorInvalidFD     uint32 = 2
)

const (
	shmRequestCreatePool uint16 = 0
	shmRequestRelease    uint16 = 1
	shmEventFormat       uint16 = 0

	poolRequestCreateBuffer uint16 = 0
	poolRequestDestroy      uint16 = 1
	poolRequestResize       uint16 = 2

	bufferRequestDestroy uint16 = 0
	bufferEventRelease   uint16 = 0
)

var ShmInterface = &server.Interface{
	Name:    "wl_shm",
	Version: 2,
	Requests: []server.Method{
		{Name: "create_pool", Signature: "nhi"},
		{Name: "release", Signature: "", Since: 2},
	},
	Events: []server.Method{
		{Name: "format", Signature: "u"},
	},
}

var ShmPoolInterface = &server.Interface{
	Name:    "wl_shm_pool",
	Version: 2,
	Requests: []server.Method{
		{Name: "create_buffer", Signature: "niiiiu"},
		{Name: "destroy", Signature: ""},
		{Name: "resize", Signature: "i"},
	},
}

var BufferInterface = &server.Interface{
	Name:    "wl_buffer",
	Version: 1,
	Requests: []server.Method{
		{Name: "destroy", Signature: ""},
	},
	Events: []server.Method{
		{Name: "release", Signature: ""},
	},
}

var shmFormats = []uint32{FormatARGB8888, FormatXRGB8888}

// Both supported formats are 32 bits per pixel.
const shmBytesPerPixel = 4

// Buffer records the geometry of a wl_buffer. Pixel contents are never
// mapped.
type Buffer struct {
	res    *server.Resource
	Width  int32
	Height int32
	Stride int32
	Offset int32
	Format uint32
}

func (b *Buffer) Resource() *server.Resource {
	return b.res
}

func (b *Buffer) Size() Size {
	return Size{W: b.Width, H: b.Height}
}

// Release tells the client the buffer may be reused.
func (b *Buffer) Release() {
	if b.res.Destroyed() {
		return
	}
	if err := b.res.Post(bufferEventRelease); err != nil {
		b.res.Client().Display().Logger().Debug("Failed to release buffer", "error", err)
	}
}

func (b *Buffer) Dispatch(r *server.Resource, opcode uint16, _ *wire.Decoder) error {
	if opcode == bufferRequestDestroy {
		r.Destroy()
	}
	return nil
}

// BufferFromResource returns the buffer behind a wl_buffer resource.
func BufferFromResource(r *server.Resource) (*Buffer, bool) {
	if r == nil {
		return nil, false
	}
	b, ok := r.Handler().(*Buffer)
	return b, ok
}

type shm struct{}

func bindShm(r *server.Resource) error {
	r.SetHandler(shm{})
	for _, f := range shmFormats {
		if err := r.Post(shmEventFormat, f); err != nil {
			return err
		}
	}
	return nil
}

func (shm) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	switch opcode {
	case shmRequestCreatePool:
		id := args.NewID()
		fd := args.FD()
		size := args.Int()
		if err := args.Err(); err != nil {
			return server.Errorf(r, ShmErrorInvalidFD, err, "create_pool: %v", err)
		}
		// Contents are never read; the descriptor is not kept.
		unix.Close(fd)
		if size <= 0 {
			return server.Errorf(r, ShmErrorInvalidStride, ErrInvalidBuffer, "invalid pool size %d", size)
		}
		_, err := r.Client().NewResource(ShmPoolInterface, r.Version(), id, &pool{size: size})
		return err

	case shmRequestRelease:
		r.Destroy()
	}
	return nil
}

type pool struct {
	size int32
}

func (p *pool) Dispatch(r *server.Resource, opcode uint16, args *wire.Decoder) error {
	switch opcode {
	case poolRequestCreateBuffer:
		id := args.NewID()
		b := &Buffer{
			Offset: args.Int(),
			Width:  args.Int(),
			Height: args.Int(),
			Stride: args.Int(),
			Format: args.Uint(),
		}

		valid := false
		for _, f := range shmFormats {
			valid = valid || f == b.Format
		}
		if !valid {
			return server.Errorf(r, ShmErrorInvalidFormat, ErrInvalidBuffer, "unsupported format 0x%x", b.Format)
		}

		need := int64(b.Offset) + int64(b.Stride)*int64(b.Height)
		if b.Width <= 0 || b.Height <= 0 || b.Offset < 0 ||
			int64(b.Stride) < int64(b.Width)*shmBytesPerPixel || need > int64(p.size) {
			return server.Errorf(r, ShmErrorInvalidStride, ErrInvalidBuffer,
				"invalid buffer %dx%d stride %d offset %d in pool of %d bytes",
				b.Width, b.Height, b.Stride, b.Offset, p.size)
		}

		res, err := r.Client().NewResource(BufferInterface, 1, id, b)
		if err != nil {
			return err
		}
		b.res = res

	case poolRequestDestroy:
		r.Destroy()

	case poolRequestResize:
		size := args.Int()
		if size < p.size {
			return server.Errorf(r, ShmErrorInvalidStride, ErrInvalidBuffer, "cannot shrink pool from %d to %d", p.size, size)
		}
		p.size = size
	}
	return nil
}
