// Package cluster partitions voxel clouds into spatial clusters. The
// split is a k-means partition of the voxel coordinates with
// deterministic seeding, so the same blob always splits the same way.
package cluster

import (
	"math"
)

// Point is one voxel coordinate in (z, y, x) order.
type Point [3]int

// KMeans partitions points into k clusters and returns the cluster
// index of every point. Seeding is deterministic: initial centers are
// the points at evenly spaced positions in input order, and ties in
// distance go to the lower cluster index. Points must not be empty and
// k must be at least 1.
func KMeans(points []Point, k int) []int {
	if k < 1 {
		k = 1
	}
	if k > len(points) {
		k = len(points)
	}

	centers := make([][3]float64, k)
	for i := 0; i < k; i++ {
		p := points[i*len(points)/k]
		centers[i] = [3]float64{float64(p[0]), float64(p[1]), float64(p[2])}
	}

	assignment := make([]int, len(points))
	const maxIterations = 100

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, p := range points {
			best, bestDist := 0, math.Inf(1)
			for c, center := range centers {
				d := squaredDistance(p, center)
				if d < bestDist {
					best, bestDist = c, d
				}
			}
			if assignment[i] != best {
				assignment[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		// Recompute centers; empty clusters keep their previous center.
		sums := make([][3]float64, k)
		counts := make([]int, k)
		for i, p := range points {
			c := assignment[i]
			sums[c][0] += float64(p[0])
			sums[c][1] += float64(p[1])
			sums[c][2] += float64(p[2])
			counts[c]++
		}
		for c := range centers {
			if counts[c] == 0 {
				continue
			}
			centers[c] = [3]float64{
				sums[c][0] / float64(counts[c]),
				sums[c][1] / float64(counts[c]),
				sums[c][2] / float64(counts[c]),
			}
		}
	}

	return assignment
}

// SplitMask partitions the foreground of a mask into k cluster masks
// using KMeans over the voxel coordinates.
func SplitMask(mask []uint8, z, y, x, k int) [][]uint8 {
	var points []Point
	for zi := 0; zi < z; zi++ {
		for yi := 0; yi < y; yi++ {
			for xi := 0; xi < x; xi++ {
				if mask[(zi*y+yi)*x+xi] > 0 {
					points = append(points, Point{zi, yi, xi})
				}
			}
		}
	}
	if len(points) == 0 {
		return nil
	}

	assignment := KMeans(points, k)
	clusters := make([][]uint8, k)
	for c := range clusters {
		clusters[c] = make([]uint8, len(mask))
	}
	for i, p := range points {
		clusters[assignment[i]][(p[0]*y+p[1])*x+p[2]] = 1
	}
	return clusters
}

func squaredDistance(p Point, c [3]float64) float64 {
	dz := float64(p[0]) - c[0]
	dy := float64(p[1]) - c[1]
	dx := float64(p[2]) - c[2]
	return dz*dz + dy*dy + dx*dx
}
