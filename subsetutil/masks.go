/*
Copyright © 2018 the gridsubset authors.
This file is part of gridsubset.

gridsubset is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

gridsubset is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with gridsubset.  If not, see <http://www.gnu.org/licenses/>.
*/


package subsetutil

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/gridsubset/catalogue"
	"github.com/spatialmodel/gridsubset/regions"
)

// MaskConfig holds the inputs of Masks.
type MaskConfig struct {
	// Shapefile holds the region polygons, with region IDs and labels
	// in the attributes IDField and LabelField.
	Shapefile, IDField, LabelField string

	// Sample is a NetCDF file whose longitude and latitude variables
	// LonVar and LatVar define the grid.
	Sample, LonVar, LatVar string

	// Out is the mask file to write.
	Out string
}

// Masks calculates the grid cells in each region and writes them to a
// mask file.
func Masks(c MaskConfig, log logrus.FieldLogger) error {
	if c.Shapefile == "" || c.Sample == "" {
		return fmt.Errorf("gridsubset: shapefile and sample must be specified")
	}
	rs, err := regions.LoadShapefile(os.ExpandEnv(c.Shapefile), c.IDField, c.LabelField)
	if err != nil {
		return err
	}
	g, err := catalogue.ReadGrid(os.ExpandEnv(c.Sample), "sample", c.LonVar, c.LatVar)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"regions": len(rs),
		"nx":      g.NX(),
		"ny":      g.NY(),
	}).Info("calculating masks")
	masks := regions.Precompute(rs, g)

	f, err := os.Create(os.ExpandEnv(c.Out))
	if err != nil {
		return fmt.Errorf("gridsubset: %v", err)
	}
	if err := regions.WriteMaskFile(f, masks); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("gridsubset: %v", err)
	}
	log.WithField("file", c.Out).Info("wrote masks")
	return nil
}
