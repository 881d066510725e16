package main

import (
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"

	"tilestream/pyramid"
)

// loadRegions 读取 geojson, 每个要素的外包框(图像像素坐标)为一帧
func loadRegions(path string) ([]orb.Bound, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read file")
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal feature")
	}

	var regions []orb.Bound
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		regions = append(regions, f.Geometry.Bound())
	}
	return regions, nil
}

func viewport() pyramid.Viewport {
	return pyramid.Viewport{W: conf.Session.Width, H: conf.Session.Height}
}

// regionViews 让每个区域充满视口
func regionViews(regions []orb.Bound, vp pyramid.Viewport, bias float64, border int) []pyramid.View {
	views := make([]pyramid.View, 0, len(regions))
	for _, r := range regions {
		views = append(views, pyramid.View{
			Viewport:  vp,
			Transform: pyramid.Fit(vp, r),
			Bias:      bias,
			Border:    border,
		})
	}
	return views
}

func confViews(vcs []ViewConf, vp pyramid.Viewport) []pyramid.View {
	views := make([]pyramid.View, 0, len(vcs))
	for _, vc := range vcs {
		views = append(views, pyramid.View{
			Viewport:  vp,
			Transform: pyramid.Transform{X: vc.X, Y: vc.Y, Z: vc.Z, A: vc.A},
			Bias:      vc.Bias,
			Border:    vc.Border,
		})
	}
	return views
}
