// Package region implements the bounds-checked buffer protocol between the
// host and guest linear memory.
//
// Buffers never cross the boundary as bare pointers. The guest hands the host
// a pointer to a 12-byte descriptor and the host validates the descriptor and
// its data span against the current memory size before reading or writing a
// single data byte.
package region
