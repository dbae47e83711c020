/*
Given a raw feature-barcode count matrix in MEX format, bio-filter-barcodes
calls the barcodes associated with cells and writes the called barcodes, a
JSON summary of the run, and optionally the filtered matrix.

Cells are called per genome and gem group with the method selected from the
cell-calling configuration: a manual barcode list, a forced top-N count, or
the order-of-magnitude method for an expected cell count. Antibody
aggregates are removed first when a UMI-correction table is given, and for
probe-multiplexed runs the barcodes of GEMs holding more probe barcodes
than expected are removed last.

The configuration file (-config) may be JSON, YAML or TOML:

	force_cells:
	  per_gem_well: 5000
	disable_ab_aggregate_detection: false

Probe-multiplexed runs pass a sample sheet (-probe-barcodes), a TSV with a
header row and the columns sample_id and probe_barcode_ids, the latter a
comma-separated list of probe barcode sequences or "all".

Sample usage:

	bio-filter-barcodes \
	    --matrix raw_feature_bc_matrix \
	    --config cells.yaml \
	    --correction-table umi_correction.tsv \
	    --out outs
*/
package main
