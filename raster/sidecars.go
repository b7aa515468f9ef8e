package raster

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
)

// The XML sidecar follows the layout of isceobj's renderHdr so that ISCE and
// MintPy load the products unchanged. Coordinate components are emitted for
// georeferenced products only.
var xmlTemplate = template.Must(template.New("xml").Parse(`<image_name>
    <property name="access_mode">
        <value>read</value>
        <doc>Image access mode.</doc>
    </property>
    <property name="byte_order">
        <value>l</value>
        <doc>Endianness of the image.</doc>
    </property>
{{- if .Geo}}
    <component name="coordinate1">
        <factorymodule>isceobj.Image</factorymodule>
        <factoryname>createCoordinate</factoryname>
        <doc>First coordinate of a 2D image (width).</doc>
        <property name="delta">
            <value>{{.XDelta}}</value>
            <doc>Coordinate quantization.</doc>
        </property>
        <property name="endingvalue">
            <value>{{.XEnd}}</value>
            <doc>Ending value of the coordinate.</doc>
        </property>
        <property name="family">
            <value>imagecoordinate</value>
            <doc>Instance family name</doc>
        </property>
        <property name="name">
            <value>imagecoordinate_name</value>
            <doc>Instance name</doc>
        </property>
        <property name="size">
            <value>{{.Width}}</value>
            <doc>Coordinate size.</doc>
        </property>
        <property name="startingvalue">
            <value>{{.XStart}}</value>
            <doc>Starting value of the coordinate.</doc>
        </property>
    </component>
    <component name="coordinate2">
        <factorymodule>isceobj.Image</factorymodule>
        <factoryname>createCoordinate</factoryname>
        <doc>Second coordinate of a 2D image (length).</doc>
        <property name="delta">
            <value>{{.YDelta}}</value>
            <doc>Coordinate quantization.</doc>
        </property>
        <property name="endingvalue">
            <value>{{.YEnd}}</value>
            <doc>Ending value of the coordinate.</doc>
        </property>
        <property name="family">
            <value>imagecoordinate</value>
            <doc>Instance family name</doc>
        </property>
        <property name="name">
            <value>imagecoordinate_name</value>
            <doc>Instance name</doc>
        </property>
        <property name="size">
            <value>{{.Length}}</value>
            <doc>Coordinate size.</doc>
        </property>
        <property name="startingvalue">
            <value>{{.YStart}}</value>
            <doc>Starting value of the coordinate.</doc>
        </property>
    </component>
{{- end}}
    <property name="data_type">
        <value>{{.DataType}}</value>
        <doc>Image data type.</doc>
    </property>
    <property name="extra_file_name">
        <value>{{.VRTName}}</value>
        <doc>For example name of vrt metadata.</doc>
    </property>
    <property name="family">
        <value>image</value>
        <doc>Instance family name</doc>
    </property>
    <property name="file_name">
        <value>{{.FileName}}</value>
        <doc>Name of the image file.</doc>
    </property>
    <property name="length">
        <value>{{.Length}}</value>
        <doc>Image length</doc>
    </property>
    <property name="name">
        <value>image_name</value>
        <doc>Instance name</doc>
    </property>
    <property name="number_bands">
        <value>{{.Bands}}</value>
        <doc>Number of image bands.</doc>
    </property>
    <property name="scheme">
        <value>{{.Scheme}}</value>
        <doc>Interleaving scheme of the image.</doc>
    </property>
    <property name="width">
        <value>{{.Width}}</value>
        <doc>Image width</doc>
    </property>
{{- if .Geo}}
    <property name="xmax">
        <value>{{.XEnd}}</value>
        <doc>Maximum range value</doc>
    </property>
    <property name="xmin">
        <value>{{.XStart}}</value>
        <doc>Minimum range value</doc>
    </property>
{{- end}}
</image_name>
`))

var vrtTemplate = template.Must(template.New("vrt").Parse(`<VRTDataset rasterXSize="{{.Width}}" rasterYSize="{{.Length}}">
{{- if .Geo}}
    <SRS>EPSG:4326</SRS>
    <GeoTransform>{{.XStart}}, {{.XDelta}}, 0.0, {{.YStart}}, 0.0, {{.YDelta}}</GeoTransform>
{{- end}}
{{- range .VRTBands}}
    <VRTRasterBand dataType="{{$.VRTDataType}}" band="{{.Band}}" subClass="VRTRawRasterBand">
        <SourceFilename relativeToVRT="1">{{$.FileName}}</SourceFilename>
        <ByteOrder>LSB</ByteOrder>
        <ImageOffset>{{.ImageOffset}}</ImageOffset>
        <PixelOffset>{{.PixelOffset}}</PixelOffset>
        <LineOffset>{{.LineOffset}}</LineOffset>
    </VRTRasterBand>
{{- end}}
</VRTDataset>
`))

type vrtBand struct {
	Band        int
	ImageOffset int
	PixelOffset int
	LineOffset  int
}

type sidecarData struct {
	Desc
	FileName    string
	VRTName     string
	DataType    string
	VRTDataType string
	XStart      float64
	XDelta      float64
	XEnd        float64
	YStart      float64
	YDelta      float64
	YEnd        float64
	VRTBands    []vrtBand
}

func newSidecarData(path string, desc Desc) sidecarData {
	d := sidecarData{
		Desc:        desc,
		FileName:    filepath.Base(path),
		VRTName:     filepath.Base(path) + ".vrt",
		DataType:    desc.DType.ISCEName(),
		VRTDataType: desc.DType.VRTName(),
	}
	if desc.Geo != nil {
		d.XStart = desc.Geo.FirstLon
		d.XDelta = desc.Geo.DeltaLon
		d.XEnd = d.XStart + d.XDelta*float64(desc.Width-1)
		d.YStart = desc.Geo.FirstLat
		d.YDelta = desc.Geo.DeltaLat
		d.YEnd = d.YStart + d.YDelta*float64(desc.Length-1)
	}
	sz := desc.DType.Size()
	for b := 0; b < desc.Bands; b++ {
		band := vrtBand{Band: b + 1}
		switch desc.Scheme {
		case BSQ:
			band.ImageOffset = b * desc.Width * desc.Length * sz
			band.PixelOffset = sz
			band.LineOffset = desc.Width * sz
		case BIP:
			band.ImageOffset = b * sz
			band.PixelOffset = desc.Bands * sz
			band.LineOffset = desc.Width * desc.Bands * sz
		default: // BIL
			band.ImageOffset = b * desc.Width * sz
			band.PixelOffset = sz
			band.LineOffset = desc.Bands * desc.Width * sz
		}
		d.VRTBands = append(d.VRTBands, band)
	}
	return d
}

func writeXML(path string, desc Desc) error {
	f, err := os.Create(path + ".xml")
	if err != nil {
		return fmt.Errorf("writeXML.%w", err)
	}
	defer f.Close()
	if err := xmlTemplate.Execute(f, newSidecarData(path, desc)); err != nil {
		return fmt.Errorf("writeXML.Execute: %w", err)
	}
	return f.Close()
}

func writeVRT(path string, desc Desc) error {
	f, err := os.Create(path + ".vrt")
	if err != nil {
		return fmt.Errorf("writeVRT.%w", err)
	}
	defer f.Close()
	if err := vrtTemplate.Execute(f, newSidecarData(path, desc)); err != nil {
		return fmt.Errorf("writeVRT.Execute: %w", err)
	}
	return f.Close()
}

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type xmlComponent struct {
	Name       string        `xml:"name,attr"`
	Properties []xmlProperty `xml:"property"`
}

type xmlImage struct {
	XMLName    xml.Name
	Properties []xmlProperty  `xml:"property"`
	Components []xmlComponent `xml:"component"`
}

// ReadDesc parses an ISCE XML sidecar. The root element name is not
// checked: isceobj writes <imageFile>, other tools write <image_name>.
func ReadDesc(xmlPath string) (Desc, error) {
	data, err := os.ReadFile(xmlPath)
	if err != nil {
		return Desc{}, fmt.Errorf("ReadDesc.%w", err)
	}
	var doc xmlImage
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Desc{}, fmt.Errorf("ReadDesc[%s]: %w", xmlPath, err)
	}
	props := map[string]string{}
	for _, p := range doc.Properties {
		props[strings.ToLower(p.Name)] = strings.TrimSpace(p.Value)
	}

	intProp := func(key string) (int, error) {
		v, ok := props[key]
		if !ok {
			return 0, fmt.Errorf("ReadDesc[%s]: missing property %s", xmlPath, key)
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("ReadDesc[%s]: property %s: %w", xmlPath, key, err)
		}
		return i, nil
	}

	var desc Desc
	if desc.Width, err = intProp("width"); err != nil {
		return Desc{}, err
	}
	if desc.Length, err = intProp("length"); err != nil {
		return Desc{}, err
	}
	if desc.Bands, err = intProp("number_bands"); err != nil {
		return Desc{}, err
	}
	if desc.Scheme, err = SchemeFromString(props["scheme"]); err != nil {
		return Desc{}, fmt.Errorf("ReadDesc[%s]: %w", xmlPath, err)
	}
	if desc.DType, err = DTypeFromISCE(props["data_type"]); err != nil {
		return Desc{}, fmt.Errorf("ReadDesc[%s]: %w", xmlPath, err)
	}
	if bo, ok := props["byte_order"]; ok && !strings.EqualFold(bo, "l") {
		return Desc{}, fmt.Errorf("ReadDesc[%s]: unsupported byte order %q", xmlPath, bo)
	}

	var geo GeoRef
	coords := 0
	for _, c := range doc.Components {
		cprops := map[string]string{}
		for _, p := range c.Properties {
			cprops[strings.ToLower(p.Name)] = strings.TrimSpace(p.Value)
		}
		start, err1 := strconv.ParseFloat(cprops["startingvalue"], 64)
		delta, err2 := strconv.ParseFloat(cprops["delta"], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		switch strings.ToLower(c.Name) {
		case "coordinate1":
			geo.FirstLon, geo.DeltaLon = start, delta
			coords++
		case "coordinate2":
			geo.FirstLat, geo.DeltaLat = start, delta
			coords++
		}
	}
	if coords == 2 {
		desc.Geo = &geo
	}
	return desc, nil
}
