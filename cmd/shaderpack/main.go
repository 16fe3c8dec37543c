// Command shaderpack bundles a SPIR-V vertex and fragment stage into the
// single container file the engine loads and hot-reloads. It can also
// inspect an existing container.
//
// Usage:
//
//	shaderpack -vert shader.vert.spv -frag shader.frag.spv -o shader.pack
//	shaderpack -info shader.pack
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"

	"github.com/kiln-gfx/kiln/engine/shader"
)

func main() {
	vertPath := flag.String("vert", "", "path to the SPIR-V vertex stage")
	fragPath := flag.String("frag", "", "path to the SPIR-V fragment stage")
	outPath := flag.String("o", "", "output container path")
	infoPath := flag.String("info", "", "print the stage sizes of an existing container")
	flag.Parse()

	if *infoPath != "" {
		if err := printInfo(*infoPath); err != nil {
			fmt.Fprintln(os.Stderr, "shaderpack:", err)
			os.Exit(1)
		}
		return
	}

	if *vertPath == "" || *fragPath == "" || *outPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := pack(*vertPath, *fragPath, *outPath); err != nil {
		fmt.Fprintln(os.Stderr, "shaderpack:", err)
		os.Exit(1)
	}
}

// readStage reads one SPIR-V file with a progress bar sized to the file.
func readStage(path, label string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pb := progressbar.DefaultBytes(st.Size(), label)
	defer pb.Close()

	data, err := io.ReadAll(io.TeeReader(f, pb))
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	return data, nil
}

func pack(vertPath, fragPath, outPath string) error {
	vert, err := readStage(vertPath, "vertex stage")
	if err != nil {
		return err
	}
	frag, err := readStage(fragPath, "fragment stage")
	if err != nil {
		return err
	}

	packed := shader.EncodeContainer(shader.Container{Vert: vert, Frag: frag})

	// Round-trip through the decoder so a malformed stage is caught here
	// instead of at engine load time.
	if _, err := shader.DecodeContainer(packed); err != nil {
		return err
	}

	if err := os.WriteFile(outPath, packed, 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", outPath, err)
	}
	fmt.Printf("packed %s (%d bytes)\n", outPath, len(packed))
	return nil
}

func printInfo(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c, err := shader.DecodeContainer(data)
	if err != nil {
		return err
	}
	fmt.Printf("%s: vertex %d bytes (%d words), fragment %d bytes (%d words)\n",
		path, len(c.Vert), len(c.Vert)/4, len(c.Frag), len(c.Frag)/4)
	return nil
}
