// Package catalog builds the list of icons to download.
//
// The public icon browser embeds its icon names in a minified script. Discover
// walks there in three steps:
//
//  1. fetch the index page and find <script id="base-js">
//  2. fetch that script and pick the object literal whose keys mention every
//     style variation (_outlined, _rounded, ...)
//  3. drop the styled keys and map each remaining name to an asset URL
//
// A catalog can also be loaded from a YAML or JSON "name: url" file with
// FromFile, which is how offline or mirrored runs skip discovery.
package catalog
