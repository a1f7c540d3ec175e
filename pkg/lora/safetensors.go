// Package lora загружает LoRA-файлы в формате safetensors и применяет
// их к клип-ветке энкодера через KeyMap цели.
//
// Формат safetensors: 8 байт little-endian длины заголовка, JSON-заголовок
// с dtype/shape/data_offsets каждого тензора, затем сплошной блок данных.
// Поддерживаются dtype F32, F16 и BF16; всё конвертируется в float32.
package lora

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// maxHeaderSize ограничивает размер JSON-заголовка safetensors.
// Защита от битых файлов: нормальный заголовок занимает килобайты.
const maxHeaderSize = 100 << 20

// TensorData - один тензор LoRA, уже сконвертированный в float32.
type TensorData struct {
	Dtype string
	Shape []int
	Data  []float32
}

// Weights - содержимое одного LoRA-файла.
type Weights struct {
	Name     string
	Tensors  map[string]TensorData
	Metadata map[string]string
}

// safetensorsEntry - запись заголовка для одного тензора.
type safetensorsEntry struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// ParseSafetensors разбирает содержимое safetensors-файла.
func ParseSafetensors(name string, raw []byte) (*Weights, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("lora %s: file too short for safetensors header", name)
	}
	headerLen := binary.LittleEndian.Uint64(raw[:8])
	if headerLen > maxHeaderSize || 8+headerLen > uint64(len(raw)) {
		return nil, fmt.Errorf("lora %s: invalid safetensors header length %d", name, headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("lora %s: parse safetensors header: %w", name, err)
	}

	w := &Weights{Name: name, Tensors: make(map[string]TensorData, len(header))}
	data := raw[8+headerLen:]

	for key, rawEntry := range header {
		if key == "__metadata__" {
			if err := json.Unmarshal(rawEntry, &w.Metadata); err != nil {
				return nil, fmt.Errorf("lora %s: parse metadata: %w", name, err)
			}
			continue
		}
		var e safetensorsEntry
		if err := json.Unmarshal(rawEntry, &e); err != nil {
			return nil, fmt.Errorf("lora %s: parse tensor %q: %w", name, key, err)
		}
		begin, end := e.DataOffsets[0], e.DataOffsets[1]
		if begin < 0 || end < begin || end > len(data) {
			return nil, fmt.Errorf("lora %s: tensor %q offsets [%d, %d) out of range", name, key, begin, end)
		}
		floats, err := decodeTensor(e.Dtype, data[begin:end])
		if err != nil {
			return nil, fmt.Errorf("lora %s: tensor %q: %w", name, key, err)
		}
		w.Tensors[key] = TensorData{Dtype: e.Dtype, Shape: e.Shape, Data: floats}
	}
	return w, nil
}

// decodeTensor конвертирует сырые байты тензора в float32.
func decodeTensor(dtype string, raw []byte) ([]float32, error) {
	switch dtype {
	case "F32":
		if len(raw)%4 != 0 {
			return nil, fmt.Errorf("F32 data size %d not divisible by 4", len(raw))
		}
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case "F16":
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("F16 data size %d not divisible by 2", len(raw))
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = halfToFloat32(binary.LittleEndian.Uint16(raw[i*2:]))
		}
		return out, nil
	case "BF16":
		if len(raw)%2 != 0 {
			return nil, fmt.Errorf("BF16 data size %d not divisible by 2", len(raw))
		}
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[i*2:])) << 16)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %q", dtype)
	}
}

// halfToFloat32 разворачивает IEEE 754 half в float32.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h>>15) & 1
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h) & 0x3ff

	var bits uint32
	switch {
	case exp == 0:
		if frac == 0 {
			bits = sign << 31
		} else {
			// Субнормаль: нормализуем мантиссу вручную
			e := uint32(127 - 15 + 1)
			for frac&0x400 == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3ff
			bits = sign<<31 | e<<23 | frac<<13
		}
	case exp == 0x1f:
		bits = sign<<31 | 0xff<<23 | frac<<13
	default:
		bits = sign<<31 | (exp-15+127)<<23 | frac<<13
	}
	return math.Float32frombits(bits)
}
