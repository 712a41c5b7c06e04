package fifo

import "testing"

func TestFifoWrite(t *testing.T) {
	fifo := NewFifo(100)
	res := fifo.Write([]byte{1, 2, 3, 4, 5})
	if res != 5 {
		t.Errorf("Written only %v", res)
	}
	if fifo.writePos != 5 {
		t.Errorf("Write position is %v", fifo.writePos)
	}
	if fifo.readPos != 0 {
		t.Error()
	}
	res = fifo.Write(make([]byte, 500))
	if res != 94 {
		t.Errorf("Wrote %v", res)
	}
	res = fifo.Write([]byte{1})
	if res != 0 {
		t.Error()
	}
	// Free up some space by reading then re writing
	fifo.Read(make([]byte, 10))
	res = fifo.Write(make([]byte, 10))
	if res != 10 {
		t.Error()
	}
}

func TestFifoRead(t *testing.T) {
	fifo := NewFifo(100)
	receiveBuffer := make([]byte, 10)
	res := fifo.Read(receiveBuffer)
	if res != 0 {
		t.Error()
	}
	res = fifo.Write([]byte{1, 2, 3, 4})
	if res != 4 && fifo.writePos != 4 {
		t.Error()
	}
	res = fifo.Read(receiveBuffer)
	if res != 4 {
		t.Errorf("Res is %v", res)
	}
}

func TestFifoWrap(t *testing.T) {
	fifo := NewFifo(8)
	buf := make([]byte, 7)
	for i := 0; i < 5; i++ {
		n := fifo.Write([]byte{1, 2, 3, 4, 5, 6, 7})
		if n != 7 {
			t.Errorf("Wrote %v", n)
		}
		n = fifo.Read(buf)
		if n != 7 {
			t.Errorf("Read %v", n)
		}
	}
	if fifo.GetOccupied() != 0 {
		t.Error()
	}
}
