package crypto

import (
	"errors"
	"testing"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
)

func TestKZGToVersionedHash(t *testing.T) {
	var commitment [KZGBytesPerCommitment]byte
	commitment[0] = 0xc0
	h := KZGToVersionedHash(commitment)
	if h[0] != KZGVersionedHashVersion {
		t.Fatalf("version byte = %#x", h[0])
	}
	if KZGToVersionedHash(commitment) != h {
		t.Fatal("versioned hash is not deterministic")
	}
}

func TestVerifyKZGPointEvaluation(t *testing.T) {
	if testing.Short() {
		t.Skip("loads the KZG trusted setup")
	}
	ctx, err := goethkzg.NewContext4096Secure()
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	var blob goethkzg.Blob
	blob[31] = 7
	commitment, err := ctx.BlobToKZGCommitment(&blob, 0)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	var z goethkzg.Scalar
	z[31] = 3
	proof, y, err := ctx.ComputeKZGProof(&blob, z, 0)
	if err != nil {
		t.Fatalf("prove: %v", err)
	}
	if err := VerifyKZGPointEvaluation(commitment, z, y, proof); err != nil {
		t.Fatalf("valid proof rejected: %v", err)
	}
	y[31] ^= 1
	if err := VerifyKZGPointEvaluation(commitment, z, y, proof); !errors.Is(err, ErrKZGInvalidProof) {
		t.Fatalf("tampered value: err = %v, want ErrKZGInvalidProof", err)
	}
}
