package webgpu

// WGSL compute shaders for the device-resident operators. Tensors are
// tightly packed CHW float32; convolution weights are OIHW with a 3x3
// window and padding 1. Every shader guards its coordinates against
// the logical extent since workgroup grids are rounded up.

const convShaderCode = `
struct Params {
    oc: u32,
    ic: u32,
    h: u32,
    w: u32,
    relu: u32,
}

@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read> weight: array<f32>;
@group(0) @binding(2) var<storage, read> bias: array<f32>;
@group(0) @binding(3) var<storage, read_write> dst: array<f32>;
@group(0) @binding(4) var<uniform> params: Params;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let x = gid.x;
    let y = gid.y;
    let o = gid.z;
    if (x >= params.w || y >= params.h || o >= params.oc) {
        return;
    }

    var sum = bias[o];
    for (var c = 0u; c < params.ic; c = c + 1u) {
        for (var ky = 0u; ky < 3u; ky = ky + 1u) {
            let yy = i32(y) + i32(ky) - 1;
            if (yy < 0 || yy >= i32(params.h)) {
                continue;
            }
            for (var kx = 0u; kx < 3u; kx = kx + 1u) {
                let xx = i32(x) + i32(kx) - 1;
                if (xx < 0 || xx >= i32(params.w)) {
                    continue;
                }
                sum = sum + src[(c * params.h + u32(yy)) * params.w + u32(xx)]
                          * weight[((o * params.ic + c) * 3u + ky) * 3u + kx];
            }
        }
    }
    if (params.relu != 0u) {
        sum = max(sum, 0.0);
    }
    dst[(o * params.h + y) * params.w + x] = sum;
}
`

const poolShaderCode = `
struct Params {
    c: u32,
    oh: u32,
    ow: u32,
}

@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let x = gid.x;
    let y = gid.y;
    let c = gid.z;
    if (x >= params.ow || y >= params.oh || c >= params.c) {
        return;
    }

    let h = params.oh * 2u;
    let w = params.ow * 2u;
    let base = (c * h + y * 2u) * w + x * 2u;
    let v = max(max(src[base], src[base + 1u]),
                max(src[base + w], src[base + w + 1u]));
    dst[(c * params.oh + y) * params.ow + x] = v;
}
`

const upsampleShaderCode = `
struct Params {
    c: u32,
    h: u32,
    w: u32,
}

@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;
@group(0) @binding(2) var<uniform> params: Params;

@compute @workgroup_size(16, 16, 1)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    let x = gid.x;
    let y = gid.y;
    let c = gid.z;
    if (x >= params.w || y >= params.h || c >= params.c) {
        return;
    }

    let v = src[(c * params.h + y) * params.w + x];
    let ow = params.w * 2u;
    let base = (c * params.h * 2u + y * 2u) * ow + x * 2u;
    dst[base] = v;
    dst[base + 1u] = v;
    dst[base + ow] = v;
    dst[base + ow + 1u] = v;
}
`
