package gpu

import (
	"bytes"
	"errors"
	"runtime"
	"testing"
)

func TestGetDefaultDevice(t *testing.T) {
	dev, err := GetDefaultDevice()
	if err != nil {
		t.Fatalf("GetDefaultDevice failed: %v", err)
	}
	defer dev.Free()

	if dev == nil {
		t.Fatal("GetDefaultDevice returned nil device")
	}

	name := dev.Name()
	if name == "" {
		t.Error("Device name is empty")
	}
	t.Logf("Default device: %s (type: %v)", name, dev.Type())
}

func TestGetCPUDevice(t *testing.T) {
	dev, err := GetDevice(DeviceTypeCPU)
	if err != nil {
		t.Fatalf("GetDevice(CPU) failed: %v", err)
	}
	defer dev.Free()

	if dev.Type() != DeviceTypeCPU {
		t.Errorf("Expected CPU device, got %v", dev.Type())
	}

	t.Logf("CPU device: %s", dev.Name())
}

func TestGetGPUDevice(t *testing.T) {
	if runtime.GOOS != "darwin" {
		dev, err := GetDevice(DeviceTypeGPU)
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("expected ErrDeviceUnavailable on %s, got %v", runtime.GOOS, err)
		}
		if dev != nil {
			t.Error("expected nil device")
		}
		return
	}

	dev, err := GetDevice(DeviceTypeGPU)
	if err != nil {
		t.Skipf("GPU device not available: %v", err)
	}
	defer dev.Free()

	if dev.Type() != DeviceTypeGPU {
		t.Errorf("Expected GPU device, got %v", dev.Type())
	}

	used, total := dev.MemoryUsage()
	t.Logf("GPU memory: %d MB used / %d MB total", used/(1024*1024), total/(1024*1024))
}

func TestGetDeviceByName(t *testing.T) {
	for _, name := range []string{"cpu", "CPU", " soft ", "software"} {
		dev, err := GetDeviceByName(name)
		if err != nil {
			t.Fatalf("GetDeviceByName(%q) failed: %v", name, err)
		}
		if dev.Type() != DeviceTypeCPU {
			t.Errorf("GetDeviceByName(%q) type = %v, want CPU", name, dev.Type())
		}
		dev.Free()
	}

	dev, err := GetDeviceByName("auto")
	if err != nil {
		t.Fatalf("GetDeviceByName(auto) failed: %v", err)
	}
	dev.Free()

	if _, err := GetDeviceByName("tpu"); err == nil {
		t.Error("expected error for unknown device name")
	}
}

func TestCPUDeviceName(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	if dev.Name() == "" {
		t.Fatal("empty device name")
	}
	if dev.Workers() < 1 {
		t.Errorf("Workers() = %d, want >= 1", dev.Workers())
	}

	dev2 := NewCPUDevice(WithWorkers(3))
	defer dev2.Free()
	if dev2.Workers() != 3 {
		t.Errorf("Workers() = %d, want 3", dev2.Workers())
	}
}

func TestCPUBufferAllocate(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	sizes := []int64{0, 1024, 1024 * 1024, 16 * 1024 * 1024}
	modes := []StorageMode{StorageShared, StoragePrivate, StorageManaged}

	for _, mode := range modes {
		for _, size := range sizes {
			buf, err := dev.Allocate(size, mode)
			if err != nil {
				t.Fatalf("Allocate(%d, %s) failed: %v", size, mode, err)
			}
			if buf.Size() != size {
				t.Errorf("Buffer size mismatch: expected %d, got %d", size, buf.Size())
			}
			if buf.Mode() != mode {
				t.Errorf("Buffer mode mismatch: expected %s, got %s", mode, buf.Mode())
			}
			buf.Free()
		}
	}

	if _, err := dev.Allocate(-1, StorageShared); !errors.Is(err, ErrInvalidSize) {
		t.Errorf("expected ErrInvalidSize, got %v", err)
	}
}

func TestCPUBufferZeroed(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	buf, err := dev.Allocate(4096, StorageShared)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Free()

	contents, err := buf.Contents()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(contents, make([]byte, 4096)) {
		t.Error("new buffer is not zero filled")
	}
}

func TestPrivateBufferNotHostVisible(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	buf, err := dev.Allocate(64, StoragePrivate)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Free()

	if _, err := buf.Contents(); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("Contents: expected ErrNotHostVisible, got %v", err)
	}
	if err := buf.CopyFromHost(make([]byte, 64)); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("CopyFromHost: expected ErrNotHostVisible, got %v", err)
	}
	if err := buf.CopyToHost(make([]byte, 64)); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("CopyToHost: expected ErrNotHostVisible, got %v", err)
	}
	if _, err := dev.AllocateWithBytes([]byte{1, 2, 3}, StoragePrivate); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("AllocateWithBytes: expected ErrNotHostVisible, got %v", err)
	}
}

func TestCPUBufferHostTransfer(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	testData := make([]byte, 1024)
	for i := range testData {
		testData[i] = byte(i % 256)
	}

	for _, mode := range []StorageMode{StorageShared, StorageManaged} {
		buf, err := dev.Allocate(int64(len(testData)), mode)
		if err != nil {
			t.Fatalf("Allocate failed: %v", err)
		}

		if err := buf.CopyFromHost(testData); err != nil {
			t.Fatalf("CopyFromHost failed: %v", err)
		}
		result := make([]byte, len(testData))
		if err := buf.CopyToHost(result); err != nil {
			t.Fatalf("CopyToHost failed: %v", err)
		}
		if !bytes.Equal(result, testData) {
			t.Errorf("%s: host round trip mismatch", mode)
		}

		if err := buf.CopyToHost(make([]byte, 10)); err == nil {
			t.Errorf("%s: expected error for short destination", mode)
		}
		if err := buf.CopyFromHost(make([]byte, 2048)); err == nil {
			t.Errorf("%s: expected error for oversized source", mode)
		}
		buf.Free()
	}
}

func TestManagedBufferNeedsDidModify(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	buf, err := dev.Allocate(8, StorageManaged)
	if err != nil {
		t.Fatal(err)
	}
	defer buf.Free()

	if err := buf.CopyFromHost([]byte{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatal(err)
	}

	cb := buf.(*cpuBuffer)
	if cb.dev[0] != 0 {
		t.Fatal("device copy changed before DidModifyRange")
	}
	if err := buf.DidModifyRange(0, 4); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(cb.dev, []byte{1, 2, 3, 4, 0, 0, 0, 0}) {
		t.Errorf("device copy = %v after partial DidModifyRange", cb.dev)
	}
	if err := buf.DidModifyRange(4, 8); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange, got %v", err)
	}
}

func TestAllocateWithBytes(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	data := []byte("vector add")
	for _, mode := range []StorageMode{StorageShared, StorageManaged} {
		buf, err := dev.AllocateWithBytes(data, mode)
		if err != nil {
			t.Fatalf("AllocateWithBytes(%s) failed: %v", mode, err)
		}
		if !bytes.Equal(buf.(*cpuBuffer).dev, data) {
			t.Errorf("%s: device copy not initialized", mode)
		}
		buf.Free()
	}
}

func TestMemoryLimit(t *testing.T) {
	dev := NewCPUDevice(WithMemoryLimit(1024))
	defer dev.Free()

	a, err := dev.Allocate(512, StorageShared)
	if err != nil {
		t.Fatal(err)
	}
	// managed counts twice
	if _, err := dev.Allocate(512, StorageManaged); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("expected ErrOutOfMemory, got %v", err)
	}

	used, total := dev.MemoryUsage()
	if used != 512 || total != 1024 {
		t.Errorf("MemoryUsage = (%d, %d), want (512, 1024)", used, total)
	}

	a.Free()
	if used, _ := dev.MemoryUsage(); used != 0 {
		t.Errorf("MemoryUsage after free = %d, want 0", used)
	}
}

func TestBufferFree(t *testing.T) {
	dev := NewCPUDevice()
	defer dev.Free()

	buf, err := dev.Allocate(1024, StorageShared)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	if err := buf.Free(); err != nil {
		t.Errorf("Free failed: %v", err)
	}
	if _, err := buf.Contents(); !errors.Is(err, ErrBufferFreed) {
		t.Errorf("expected ErrBufferFreed, got %v", err)
	}

	// Double-free should be safe (no-op)
	if err := buf.Free(); err != nil {
		t.Errorf("Second Free failed: %v", err)
	}
}

func TestFreedDevice(t *testing.T) {
	dev := NewCPUDevice()
	dev.Free()

	if _, err := dev.Allocate(16, StorageShared); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
	if _, err := dev.NewCommandQueue(); !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestDeviceTypeString(t *testing.T) {
	tests := []struct {
		dt   DeviceType
		want string
	}{
		{DeviceTypeCPU, "CPU"},
		{DeviceTypeGPU, "GPU"},
		{DeviceType(999), "Unknown"},
	}

	for _, tt := range tests {
		got := tt.dt.String()
		if got != tt.want {
			t.Errorf("DeviceType(%d).String() = %s, want %s", tt.dt, got, tt.want)
		}
	}
}

func TestStorageModeString(t *testing.T) {
	tests := []struct {
		mode    StorageMode
		want    string
		visible bool
	}{
		{StorageShared, "shared", true},
		{StoragePrivate, "private", false},
		{StorageManaged, "managed", true},
		{StorageMode(7), "StorageMode(7)", false},
	}

	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("String() = %s, want %s", got, tt.want)
		}
		if got := tt.mode.HostVisible(); got != tt.visible {
			t.Errorf("%s.HostVisible() = %v, want %v", tt.want, got, tt.visible)
		}
	}
}

func TestMetalDeviceBuffers(t *testing.T) {
	dev, err := NewMetalDevice()
	if err != nil {
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("expected ErrDeviceUnavailable, got %v", err)
		}
		t.Skipf("Metal device not available: %v", err)
	}
	defer dev.Free()

	for _, mode := range []StorageMode{StorageShared, StorageManaged} {
		buf, err := dev.Allocate(1024, mode)
		if err != nil {
			t.Fatalf("Allocate(%s) failed: %v", mode, err)
		}
		data := bytes.Repeat([]byte{7}, 1024)
		if err := buf.CopyFromHost(data); err != nil {
			t.Fatal(err)
		}
		result := make([]byte, 1024)
		if err := buf.CopyToHost(result); err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, result) {
			t.Errorf("%s: host round trip mismatch", mode)
		}
		buf.Free()
	}

	priv, err := dev.Allocate(1024, StoragePrivate)
	if err != nil {
		t.Fatal(err)
	}
	defer priv.Free()
	if _, err := priv.Contents(); !errors.Is(err, ErrNotHostVisible) {
		t.Errorf("expected ErrNotHostVisible, got %v", err)
	}
}

// Benchmark host-to-device transfer on the software device
func BenchmarkCPUHostToDevice(b *testing.B) {
	dev := NewCPUDevice()
	defer dev.Free()

	size := int64(4 * 1024 * 1024) // 4MB
	buf, err := dev.Allocate(size, StorageShared)
	if err != nil {
		b.Fatalf("Allocate failed: %v", err)
	}
	defer buf.Free()

	data := make([]byte, size)

	b.SetBytes(size)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := buf.CopyFromHost(data); err != nil {
			b.Fatalf("CopyFromHost failed: %v", err)
		}
	}
}

// Benchmark GPU buffer allocation
func BenchmarkGPUAllocate(b *testing.B) {
	if runtime.GOOS != "darwin" {
		b.Skip("GPU device only supported on macOS")
	}

	dev, err := NewMetalDevice()
	if err != nil {
		b.Skipf("Metal device not available: %v", err)
	}
	defer dev.Free()

	size := int64(1024 * 1024) // 1MB

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, err := dev.Allocate(size, StorageShared)
		if err != nil {
			b.Fatalf("Allocate failed: %v", err)
		}
		buf.Free()
	}
}
