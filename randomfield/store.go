package randomfield

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
)

// Persistence writes three files per field: <base>.ini holds the
// configuration in key-value form, <base>.dat the raw cell values, and
// <base>.xdmf a visualization descriptor. The .dat layout is a little-endian
// header (int32 dimension, one int64 cell count per axis) followed by the
// global field in flat index order. Every rank writes its own slab through
// WriteAt; the slab split runs along the slowest axis, so each local region
// is contiguous in the file.

const datHeaderDim = 4

func datHeaderSize(dim int) int64 { return datHeaderDim + int64(dim)*8 }

func (f *RandomField) datOffset() int64 {
	d := f.desc
	plane := d.DomainSize / d.Cells[d.Dim-1]
	return datHeaderSize(d.Dim) + int64(d.LocalOffset[d.Dim-1])*int64(plane)*8
}

// WriteToFile stores the field under the given base name. Rank 0 writes the
// metadata files and sizes the data file; all ranks then write their slab in
// parallel.
func (f *RandomField) WriteToFile(basename string) error {
	d := f.desc
	rank := f.comm.Rank()

	var err error
	if rank == 0 {
		err = f.writeMetadata(basename)
	}
	if err == nil && rank == 0 {
		err = createDatFile(basename+".dat", d.Dim, d.Cells, d.DomainSize)
	}
	if err = f.comm.Check(err); err != nil {
		return err
	}

	file, err := os.OpenFile(basename+".dat", os.O_WRONLY, 0)
	if err = f.comm.Check(err); err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, len(f.stochastic.data)*8)
	for i, v := range f.stochastic.data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	_, err = file.WriteAt(buf, f.datOffset())
	if err = f.comm.Check(err); err != nil {
		return err
	}

	f.comm.Barrier()
	return nil
}

// LoadFromFile restores the field from files written by WriteToFile. The
// stored geometry must match the current one; caches become invalid.
func (f *RandomField) LoadFromFile(basename string) error {
	d := f.desc

	file, err := os.Open(basename + ".dat")
	if os.IsNotExist(err) {
		err = fmt.Errorf("%w: %s.dat", ErrMissingFile, basename)
	}
	if err = f.comm.Check(err); err != nil {
		return err
	}
	defer file.Close()

	err = checkDatHeader(file, d.Dim, d.Cells)
	if err = f.comm.Check(err); err != nil {
		return err
	}

	buf := make([]byte, len(f.stochastic.data)*8)
	_, err = file.ReadAt(buf, f.datOffset())
	if err = f.comm.Check(err); err != nil {
		return err
	}
	for i := range f.stochastic.data {
		f.stochastic.data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	f.stochastic.evalValid = false

	f.invMatvecValid = false
	f.invRootMatvecValid = false

	f.comm.Barrier()
	return nil
}

func (f *RandomField) writeMetadata(basename string) error {
	ini, err := os.Create(basename + ".ini")
	if err != nil {
		return err
	}
	if err := f.cfg.WriteKeyValue(ini); err != nil {
		ini.Close()
		return err
	}
	if err := ini.Close(); err != nil {
		return err
	}
	return f.writeXDMF(basename)
}

func createDatFile(name string, dim int, cells []int, domainSize int) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}

	header := make([]byte, datHeaderSize(dim))
	binary.LittleEndian.PutUint32(header, uint32(dim))
	for i, n := range cells {
		binary.LittleEndian.PutUint64(header[datHeaderDim+i*8:], uint64(n))
	}
	if _, err := file.Write(header); err != nil {
		file.Close()
		return err
	}
	if err := file.Truncate(datHeaderSize(dim) + int64(domainSize)*8); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func checkDatHeader(file *os.File, dim int, cells []int) error {
	header := make([]byte, datHeaderSize(dim))
	if _, err := file.ReadAt(header, 0); err != nil {
		return err
	}
	if got := int(binary.LittleEndian.Uint32(header)); got != dim {
		return fmt.Errorf("stored field has dimension %d, expected %d", got, dim)
	}
	for i, n := range cells {
		if got := int(binary.LittleEndian.Uint64(header[datHeaderDim+i*8:])); got != n {
			return fmt.Errorf("stored field has %d cells along axis %d, expected %d", got, i, n)
		}
	}
	return nil
}

// writeXDMF emits a rectilinear-mesh descriptor pointing at the data file,
// with axes listed slowest first and a padded third axis for 2D fields.
func (f *RandomField) writeXDMF(basename string) error {
	d := f.desc

	var b strings.Builder
	dims := make([]string, d.Dim)
	for i := 0; i < d.Dim; i++ {
		dims[i] = fmt.Sprintf("%d", d.Cells[d.Dim-1-i])
	}
	elements := strings.Join(dims, " ")

	fmt.Fprintln(&b, `<?xml version="1.0" ?>`)
	fmt.Fprintln(&b, `<!DOCTYPE Xdmf SYSTEM "Xdmf.dtd" []>`)
	fmt.Fprintln(&b, `<Xdmf Version="2.0">`)
	fmt.Fprintln(&b, ` <Domain>`)
	fmt.Fprintln(&b, `  <Grid Name="StructuredGrid" GridType="Uniform">`)
	fmt.Fprintf(&b, "   <Topology TopologyType=\"3DRectMesh\" NumberOfElements=\"%s \"/>\n", elements)
	fmt.Fprintln(&b, `   <Geometry GeometryType="origin_dxdydz">`)
	fmt.Fprintln(&b, `    <DataItem Dimensions="3" NumberType="Float" Precision="4" Format="XML">`)
	fmt.Fprintln(&b, `     0. 0. 0.`)
	fmt.Fprintln(&b, `    </DataItem>`)
	fmt.Fprintln(&b, `    <DataItem Dimensions="3" NumberType="Float" Precision="4" Format="XML">`)
	mid := d.Dim - 2
	if mid < 0 {
		mid = 0
	}
	fmt.Fprintf(&b, "     %g %g %g\n",
		float64(d.Cells[0])/d.Extensions[0],
		float64(d.Cells[mid])/d.Extensions[mid],
		float64(d.Cells[d.Dim-1])/d.Extensions[d.Dim-1])
	fmt.Fprintln(&b, `    </DataItem>`)
	fmt.Fprintln(&b, `   </Geometry>`)
	fmt.Fprintln(&b, `   <Attribute Name="field" AttributeType="Scalar" Center="Cell">`)
	fmt.Fprintf(&b, "    <DataItem Dimensions=\"%s \" NumberType=\"Float\" Precision=\"8\" Format=\"Binary\" Seek=\"%d\">\n",
		elements, datHeaderSize(d.Dim))
	fmt.Fprintf(&b, "     %s.dat\n", basename)
	fmt.Fprintln(&b, `    </DataItem>`)
	fmt.Fprintln(&b, `   </Attribute>`)
	fmt.Fprintln(&b, `  </Grid>`)
	fmt.Fprintln(&b, ` </Domain>`)
	fmt.Fprintln(&b, `</Xdmf>`)

	return os.WriteFile(basename+".xdmf", []byte(b.String()), 0o644)
}
